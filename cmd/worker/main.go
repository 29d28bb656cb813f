package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sleepsocial/sleepsocial/internal/setup"
	"github.com/sleepsocial/sleepsocial/internal/worker/feed"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "worker",
		Usage: "Start the sleepsocial feed worker",
		Commands: []*cli.Command{
			{
				Name:  "feed",
				Usage: "Start the feed fan-out worker",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return runFeedWorker(ctx)
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

// runFeedWorker initializes the application and runs the feed worker until
// the process receives an interrupt or termination signal.
func runFeedWorker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.Background())

	worker := feed.New(app)

	if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
		app.Logger.Error("Feed worker stopped with error", zap.Error(err))
		return err
	}

	app.Logger.Info("Feed worker shut down")

	return nil
}
