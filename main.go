package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"tglinkbot/internal/config"
	"tglinkbot/internal/panel"
	"tglinkbot/internal/store"
	"tglinkbot/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	st, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close()

	hc, err := panel.NewHTTPClient(cfg.HTTPTimeout(), cfg.OutboundProxy)
	if err != nil {
		log.Fatalf("http client: %v", err)
	}
	pc := panel.NewClient(cfg, hc)

	b, err := telegram.NewBot(cfg, st, pc)
	if err != nil {
		log.Fatalf("bot init: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("🚀 Linking bot running, panel at %s", cfg.PanelAPIBase)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("[ERROR] bot run: %v", err)
	}
	log.Println("👋 Bot stopped.")
}
