package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cart-recovery-agent/internal/repository"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect the persisted conversation state.",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print conversation, alias and allow-list counts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withState(cmd.Context(), func(s *repository.State) error {
				conversations, aliases, allowed := s.Stats()
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "conversations=%d aliases=%d allowed=%d\n", conversations, aliases, allowed)
				return err
			})
		},
	})
	return cmd
}

func withState(ctx context.Context, fn func(*repository.State) error) error {
	logger := newLogger(os.Stderr)
	sink, closeSink, err := newSnapshotSink(ctx, lazyAWSConfig())
	if err != nil {
		return fmt.Errorf("create snapshot sink: %w", err)
	}
	defer func() { _ = closeSink() }()

	state, err := repository.NewState(sink, logger)
	if err != nil {
		return err
	}
	state.Load(ctx)
	return fn(state)
}
