// Command tsignals-relay forwards trading signal channels into one
// destination channel and keeps a single pinned disclaimer there.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"tsignals-relay/internal/bot"
	"tsignals-relay/internal/config"
	"tsignals-relay/internal/logging"
	"tsignals-relay/internal/storage"
)

func main() {
	logging.Init()
	if err := rootCmd().Execute(); err != nil {
		logging.Log.Error().Err(err).Msg("exit")
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tsignals-relay",
		Short:         "Relay Telegram signal channels with a pinned disclaimer",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runRelay,
	}
	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to Telegram and relay messages (default)",
		RunE:  runRelay,
	})
	root.AddCommand(stateCmd())
	return root
}

func runRelay(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	r, err := bot.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := r.Run(ctx); err != nil {
		return err
	}
	logging.Log.Info().Str("event", "shutdown").Msg("relay stopped")
	return nil
}

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or change the persisted relay state",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print every state entry",
			Args:  cobra.NoArgs,
			RunE: withState(func(_ *config.State, s *storage.Store, _ []string) error {
				items, err := s.ListState()
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Println("no state recorded")
				}
				for _, it := range items {
					fmt.Printf("%s = %s\n", it.Key, it.Value)
				}
				return nil
			}),
		},
		&cobra.Command{
			Use:   "reset-sync",
			Short: "Clear the sync marker so history is replayed on next start",
			Args:  cobra.NoArgs,
			RunE: withState(func(_ *config.State, s *storage.Store, _ []string) error {
				return s.ResetSync()
			}),
		},
		&cobra.Command{
			Use:   "forget-pin",
			Short: "Stop tracking the pinned disclaimer of DESTINO",
			Args:  cobra.NoArgs,
			RunE: withState(func(st *config.State, s *storage.Store, _ []string) error {
				if st.Destination == 0 {
					return errors.New("DESTINO is required")
				}
				return s.ClearPinnedID(st.Destination)
			}),
		},
		&cobra.Command{
			Use:   "set-pin <message-id>",
			Short: "Track an existing message of DESTINO as the pinned disclaimer",
			Args:  cobra.ExactArgs(1),
			RunE: withState(func(st *config.State, s *storage.Store, args []string) error {
				if st.Destination == 0 {
					return errors.New("DESTINO is required")
				}
				id, err := strconv.Atoi(args[0])
				if err != nil || id <= 0 {
					return fmt.Errorf("invalid message id %q", args[0])
				}
				return s.SetPinnedID(st.Destination, id)
			}),
		},
	)
	return cmd
}

// withState opens the state file around fn.
func withState(fn func(st *config.State, s *storage.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		st, err := config.LoadState()
		if err != nil {
			return err
		}
		s, err := storage.Open(st.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", st.Path, err)
		}
		defer s.Close()
		return fn(st, s, args)
	}
}
