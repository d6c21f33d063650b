package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/duocall/duocall/internal/call"
	"github.com/duocall/duocall/internal/logging"
	"github.com/duocall/duocall/internal/media"
	"github.com/duocall/duocall/internal/signaling"
)

var (
	flagPeerID   string
	flagNoAudio  bool
	flagNoVideo  bool
	flagRelayURL string
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and negotiate a session with whoever else is there",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.Context(), args[0])
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagPeerID, "id", "", "peer identity (random when empty)")
	joinCmd.Flags().StringVar(&flagRelayURL, "relay-url", "", "signaling relay base URL (overrides DUOCALL_RELAY_URL)")
	joinCmd.Flags().BoolVar(&flagNoAudio, "no-audio", false, "start with audio muted")
	joinCmd.Flags().BoolVar(&flagNoVideo, "no-video", false, "start with video disabled")
	rootCmd.AddCommand(joinCmd)
}

func runJoin(ctx context.Context, roomID string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	selfID := flagPeerID
	if selfID == "" {
		selfID = uuid.NewString()
	}
	relayURL := cfg.RelayURL
	if flagRelayURL != "" {
		relayURL = flagRelayURL
	}

	iceServers, err := cfg.ICEServers()
	if err != nil {
		return err
	}

	src, err := media.NewSyntheticSource()
	if err != nil {
		return fmt.Errorf("local media: %w", err)
	}
	defer src.Close()
	if flagNoAudio {
		src.SetEnabled(webrtc.RTPCodecTypeAudio, false)
	}
	if flagNoVideo {
		src.SetEnabled(webrtc.RTPCodecTypeVideo, false)
	}

	api := call.NewWebRTCAPI(logging.NewPionFactory(log))
	relay := signaling.NewClient(relayURL, selfID, signaling.ClientOptions{
		SubscribeTimeout: cfg.SubscribeTimeout,
		WriteWait:        cfg.WSWriteWait,
		PongWait:         cfg.WSPongWait,
	}, log)

	coord := call.NewCoordinator(call.Options{
		SelfID:            selfID,
		RoomID:            roomID,
		Relay:             relay,
		Transport:         call.NewPionTransportFactory(api, iceServers),
		Media:             src,
		AnnounceInterval:  cfg.AnnounceInterval,
		AnnounceAttempts:  cfg.AnnounceAttempts,
		MediaReadyTimeout: cfg.MediaReadyTimeout,
		OnRemoteTrack: func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			log.Info().
				Str("kind", track.Kind().String()).
				Str("codec", track.Codec().MimeType).
				Msg("receiving counterpart media")
		},
		Log: log,
	})

	removed := make(chan struct{}, 1)
	coord.OnStatus(func(st call.Status) {
		switch {
		case st.Removed:
			select {
			case removed <- struct{}{}:
			default:
			}
		case st.Connected:
			log.Info().Msg("call connected")
		case st.Connecting:
			log.Info().Msg("counterpart found, negotiating")
		case st.Error != "":
			log.Warn().Str("error", st.Error).Msg("session degraded")
		default:
			log.Info().Msg("waiting for a counterpart")
		}
	})

	log.Info().Str("room_id", roomID).Str("self_id", selfID).Str("relay_url", relayURL).
		Msg("joining room")
	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", roomID, err)
	}
	defer coord.Close()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		log.Info().Msg("leaving room")
	case <-removed:
		log.Info().Msg("removed from the room by the counterpart")
	case <-ctx.Done():
	}
	return nil
}
