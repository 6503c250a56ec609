package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-co-op/gocron/v2"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"example.com/backstage/services/resource/internal/messaging"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that records dead-lettered resource events and runs scheduled batch notifications`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	g, ctx := errgroup.WithContext(ctx)

	if app.bus != nil {
		receiver, err := app.bus.DeadLetterReceiver()
		if err != nil {
			return err
		}
		handler := messaging.NewDeadLetterHandler(log.Logger, app.metrics)
		consumer := messaging.NewDeadLetterConsumer(receiver, handler, cfg.Messaging.Topic, cfg.Messaging.ReceiveBatch, log.Logger)

		g.Go(func() error {
			log.Info().Str("queue", cfg.Messaging.DeadLetterQueue).Msg("Starting dead-letter consumer")
			return consumer.Run(ctx)
		})
	} else {
		log.Warn().Msg("Messaging not available, dead-letter consumer not started")
	}

	if cfg.Notify.Interval > 0 {
		g.Go(func() error {
			scheduler, err := gocron.NewScheduler(gocron.WithLocation(app.clock.Location()))
			if err != nil {
				return err
			}

			_, err = scheduler.NewJob(
				gocron.DurationJob(cfg.Notify.Interval),
				gocron.NewTask(func() {
					txn := app.tracer.StartTransaction("worker/notify-all")
					defer txn.End()

					resp, err := app.service.NotifyAll(newrelic.NewContext(ctx, txn))
					if err != nil {
						txn.NoticeError(err)
						log.Error().Err(err).Msg("Scheduled batch notification failed")
						return
					}
					log.Info().Str("operation_id", resp.OperationID).Int("resource_count", resp.ResourceCount).Msg("Scheduled batch notification finished")
				}),
				gocron.WithSingletonMode(gocron.LimitModeReschedule),
			)
			if err != nil {
				return err
			}

			log.Info().Dur("interval", cfg.Notify.Interval).Msg("Starting batch notification schedule")
			scheduler.Start()

			<-ctx.Done()

			return scheduler.Shutdown()
		})
	}

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
