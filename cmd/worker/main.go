package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/atlas/internal/platform"
	"github.com/OFFIS-RIT/atlas/internal/queue"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/etl"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
	})
	logger.Init(consoleLogger)

	p := platform.New(ctx)
	defer p.Close()

	projector, err := p.Projector()
	if err != nil {
		logger.Fatal("Failed to initialise ETL projector", "err", err)
	}
	ch, err := p.Channel()
	if err != nil {
		logger.Fatal("Failed to open queue channel", "err", err)
	}

	handle := func(ctx context.Context, body []byte) error {
		job, err := queue.DecodeETLJob(body)
		if err != nil {
			return err
		}
		res, err := projector.Run(ctx, job.Prefix, etl.Options{Graph: job.Graph, Vectors: job.Vectors})
		if err != nil {
			return err
		}
		if res.Partial() {
			logger.Warn("[Worker] ETL finished without vectors", "prefix", res.Prefix, "batch_id", res.BatchID, "err", res.VectorErr)
		}
		return nil
	}

	if err := queue.Consume(ctx, ch, queue.ETLQueue, handle); err != nil {
		logger.Fatal("Consumer stopped", "err", err)
	}
	logger.Info("Worker shut down")
}
