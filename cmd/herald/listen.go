package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/herald/client"
)

func newListenCmd() *cobra.Command {
	var (
		url     string
		token   string
		format  string
		courses []string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Connect to the gateway and print every event as a JSON line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, err := client.Dial(ctx, url,
				client.WithToken(token),
				client.WithFormat(format),
				client.WithReconnect(5, time.Second),
			)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, courseID := range courses {
				if err := c.JoinCourse(courseID); err != nil {
					return fmt.Errorf("join %s: %w", courseID, err)
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for {
				select {
				case <-ctx.Done():
					return nil
				case evt, ok := <-c.Events():
					if !ok {
						return fmt.Errorf("connection closed")
					}
					if err := enc.Encode(evt); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:5000/ws", "gateway URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("HERALD_TOKEN"), "bearer token")
	cmd.Flags().StringVar(&format, "format", "json", "wire format: json or msgpack")
	cmd.Flags().StringSliceVar(&courses, "course", nil, "course ids to join")
	return cmd
}
