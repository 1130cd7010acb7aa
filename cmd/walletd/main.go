package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"gopherwallet.com/internal/app"
)

func main() {
	// Ctrl+C / systemd 停止信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	walletd, err := app.New("walletd")
	if err != nil {
		log.Fatalf("init walletd: %v", err)
	}
	if err := walletd.Run(ctx); err != nil {
		log.Fatalf("walletd exit: %v", err)
	}
}
