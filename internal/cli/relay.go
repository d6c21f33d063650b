package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duocall/duocall/internal/relayserver"
)

const relayShutdownGrace = 5 * time.Second

var flagListenAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the development signaling relay",
	Long: `Runs the unauthenticated pub/sub relay both parties of a call
subscribe to. Intended for development and testing; it holds no call state
beyond the live room subscriptions.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func init() {
	relayCmd.Flags().StringVar(&flagListenAddr, "listen", "", "listen address (overrides DUOCALL_RELAY_LISTEN_ADDR)")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(ctx context.Context) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	addr := cfg.RelayListenAddr
	if flagListenAddr != "" {
		addr = flagListenAddr
	}

	hub := relayserver.NewHub(log)
	go hub.Run()
	defer hub.Close()

	srv := &http.Server{
		Addr:              addr,
		Handler:           relayserver.New(hub, log).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("listen_addr", addr).Msg("relay listening")
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-sig:
	case <-ctx.Done():
	}

	log.Info().Msg("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), relayShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
