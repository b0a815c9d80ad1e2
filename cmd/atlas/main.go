package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/OFFIS-RIT/atlas/internal/platform"
	"github.com/OFFIS-RIT/atlas/internal/queue"
	"github.com/OFFIS-RIT/atlas/internal/util"
	"github.com/OFFIS-RIT/atlas/pkg/logger"
	"github.com/OFFIS-RIT/atlas/pkg/logger/console"
)

// platformBackends exposes the broker channel as a plain publisher.
type platformBackends struct {
	*platform.Platform
}

func (b platformBackends) Publisher() (queue.Publisher, error) {
	return b.Channel()
}

func main() {
	util.LoadEnv()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Format: util.GetEnv("LOG_FORMAT"),
	})
	logger.Init(consoleLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	p := platform.New(ctx)

	root := newRootCmd(platformBackends{p}, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	p.Close()
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
