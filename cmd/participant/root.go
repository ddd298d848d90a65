package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/logging"
)

var (
	flagServer   string
	flagStun     []string
	flagLogLevel string

	offerTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "participant",
	Short: "Terminal participant for Meet sessions",
	Long: `participant connects to a Meet server, joins a session and opens a
peer-to-peer data channel toward every other participant.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			cfg.Log.Level = flagLogLevel
		}
		logging.Init(cfg.Log)

		if !cmd.Flags().Changed("server") {
			flagServer = cfg.Participant.ServerURL
		}
		if !cmd.Flags().Changed("stun") {
			flagStun = cfg.Participant.StunURLs
		}
		offerTimeout = cfg.Session.OfferTimeout
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "signaling endpoint, e.g. ws://localhost:8080/api/ws")
	rootCmd.PersistentFlags().StringSliceVar(&flagStun, "stun", nil, "STUN server URLs")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "override log.level")
	rootCmd.AddCommand(joinCmd)
}

// Execute runs the root command until it returns or the process is interrupted.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("participant failed")
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
