package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/chaincache/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.New(os.Stdout).Command().Run(ctx, os.Args); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}
