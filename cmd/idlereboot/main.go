package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/MrSnakeDoc/idlereboot/internal/cli"
	"github.com/MrSnakeDoc/idlereboot/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.BuildCLI().ExecuteContext(ctx); err != nil {
		stop()
		log := logger.New("error", true)
		log.Error("idlereboot failed", logger.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
