package cmd

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Publish a batch notification for every resource",
	RunE:  runNotify,
}

func init() {
	rootCmd.AddCommand(notifyCmd)
}

func runNotify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	app, err := newApp(cfg)
	if err != nil {
		return err
	}

	resp, notifyErr := app.service.NotifyAll(cmd.Context())

	// Drain queued events before exiting.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	app.close(ctx)

	if notifyErr != nil {
		return notifyErr
	}

	log.Info().Int("resource_count", resp.ResourceCount).Msg("Batch notification completed")
	return json.NewEncoder(os.Stdout).Encode(resp)
}
