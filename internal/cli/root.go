// Package cli wires the duocall commands: joining a call as one party, and
// running the development signaling relay.
package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/duocall/duocall/internal/config"
	"github.com/duocall/duocall/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "duocall",
	Short: "Two-party audio/video calls over a pub/sub signaling relay",
	Long: `duocall establishes direct two-party WebRTC sessions. Both parties
join a named room through a shared signaling relay, discover each other,
and negotiate a peer connection; media then flows directly between them.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the environment configuration and builds the process logger.
func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	log, err := logging.New(cfg.LogLevel, logging.Format(cfg.LogFormat))
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}
	return cfg, log, nil
}
