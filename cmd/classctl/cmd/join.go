package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/forkful/liveclass/internal/adapters/rtc"
	"github.com/forkful/liveclass/internal/client"
	"github.com/forkful/liveclass/internal/domain"
)

var (
	serverURL    string
	roomID       string
	iceServers   []string
	stallTimeout time.Duration
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room and hold peer connections open until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		if roomID == "" {
			return fmt.Errorf("--room is required")
		}

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		transport, err := client.Dial(ctx, serverURL)
		if err != nil {
			return fmt.Errorf("dial relay: %w", err)
		}

		media, err := client.NewSampleMedia()
		if err != nil {
			return fmt.Errorf("local media: %w", err)
		}

		pcCfg := rtc.Config(iceServers)
		ctl := client.NewController(client.ControllerConfig{
			Transport: transport,
			Media:     media,
			NewPeerConnection: func(remote domain.ParticipantID) (client.PeerConnection, error) {
				return rtc.NewConnection(pcCfg, remote)
			},
			StallTimeout: stallTimeout,
		})
		defer ctl.Leave()

		joinCtx, joinCancel := context.WithTimeout(ctx, 10*time.Second)
		defer joinCancel()
		occupants, err := ctl.JoinRoom(joinCtx, domain.RoomID(roomID))
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		log.Info().Str("room", roomID).Int("occupants", len(occupants)).Msg("joined")
		go media.Pump(ctx)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-ctl.Events():
				switch e := ev.(type) {
				case client.PeerConnectedEvent:
					log.Info().Str("participant", string(e.Participant)).Msg("peer connected")
				case client.PeerClosedEvent:
					log.Info().Str("participant", string(e.Participant)).Msg("peer closed")
				case client.NegotiationStalledEvent:
					log.Warn().Str("participant", string(e.Participant)).Msg("negotiation stalled")
				case client.ServerErrorEvent:
					log.Warn().Str("reason", e.Reason).Msg("relay error")
				}
			}
		}
	},
}

func init() {
	joinCmd.Flags().StringVarP(&serverURL, "server", "s", "ws://localhost:8080/api/ws/signal", "relay signaling endpoint")
	joinCmd.Flags().StringVarP(&roomID, "room", "r", "", "room to join")
	joinCmd.Flags().StringSliceVar(&iceServers, "ice-server", []string{"stun:stun.l.google.com:19302"}, "STUN/TURN server urls")
	joinCmd.Flags().DurationVar(&stallTimeout, "stall-timeout", 15*time.Second, "tear down links that never connect")
	rootCmd.AddCommand(joinCmd)
}
