package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/ferrite"
	"go.uber.org/zap"

	"github.com/kode4food/ledger/internal/cli"
)

func main() {
	ferrite.Init()

	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	if err := cli.NewRoot(logger).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ledger:", err)
		cancel()
		os.Exit(1)
	}
}
