package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuelReschke/MealPay/app/models"
	"github.com/ManuelReschke/MealPay/internal/pkg/bootstrap"
	"github.com/ManuelReschke/MealPay/internal/pkg/config"
	"github.com/ManuelReschke/MealPay/internal/pkg/env"
	"github.com/ManuelReschke/MealPay/internal/pkg/orchestrator"
)

// eventService is the part of the orchestrator the CLI drives.
type eventService interface {
	FailedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	Reprocess(ctx context.Context, eventID string) (orchestrator.Response, error)
}

type connectFunc func(ctx context.Context) (eventService, func() error, error)

func main() {
	env.SetupEnvFile()

	if err := newRootCmd(connect).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (eventService, func() error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	// Reprocessing runs inline; the queue belongs to the server.
	cfg.Webhook.RetryEnabled = false

	services, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return services.Orchestrator, services.Close, nil
}

func newRootCmd(connect connectFunc) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "reprocess",
		Short:         "Inspect and reprocess failed-but-acknowledged webhook events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "Overall timeout")

	rootCmd.AddCommand(listCmd(connect))
	rootCmd.AddCommand(runCmd(connect))
	return rootCmd
}

func withService(cmd *cobra.Command, connect connectFunc, fn func(ctx context.Context, svc eventService) error) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	svc, closeFn, err := connect(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, svc)
}

func listCmd(connect connectFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List failed webhook events, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			return withService(cmd, connect, func(ctx context.Context, svc eventService) error {
				events, err := svc.FailedEvents(ctx, limit)
				if err != nil {
					return fmt.Errorf("failed to list events: %w", err)
				}
				printEvents(cmd.OutOrStdout(), events)
				return nil
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 50, "Maximum number of events")

	return cmd
}

func runCmd(connect connectFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "run [event-id...]",
		Short: "Reprocess events from their stored payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, connect, func(ctx context.Context, svc eventService) error {
				out := cmd.OutOrStdout()
				failed := 0
				for _, eventID := range args {
					resp, err := svc.Reprocess(ctx, eventID)
					if err != nil {
						failed++
						fmt.Fprintf(out, "%s\tFAILED\t%v\n", eventID, err)
						continue
					}
					fmt.Fprintf(out, "%s\t%s\n", eventID, resp.Status)
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d events failed to reprocess", failed, len(args))
				}
				return nil
			})
		},
	}
}

func printEvents(w io.Writer, events []models.WebhookEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No failed webhook events")
		return
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\tattempts=%d\treceived=%s\t%s\n",
			ev.EventID, ev.EventType, ev.Attempts, ev.ReceivedAt.UTC().Format(time.RFC3339), ev.ProcessingError)
	}
}
