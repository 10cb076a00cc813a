package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "watch [database]",
		Short: "Print change notifications of a database as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			database := a.cfg.Database
			if len(args) == 1 {
				database = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c, err := a.newClient()
			if err != nil {
				return err
			}

			sub, err := c.Subscribe(ctx, database)
			if err != nil {
				return err
			}
			defer sub.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			for seen := 0; count <= 0 || seen < count; seen++ {
				n, err := sub.Next(ctx)
				if err != nil {
					if errors.Is(err, context.Canceled) {
						a.logger.Info("watch stopped", zap.String("database", database))
						return nil
					}
					return err
				}
				if err := enc.Encode(n); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "count", 0, "exit after this many notifications (0 means no limit)")
	return cmd
}
