package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lsmkv/internal/admin"
	"lsmkv/internal/server"
	"lsmkv/pkg/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to a YAML config file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := initConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "lsmkvd: load config: %v\n", err)
		os.Exit(1)
	}
	log := initLogger(&cfg)

	engine, err := store.Open(cfg.Engine.DataDir, store.Options{
		MemtableSize:        cfg.Engine.MemtableSize,
		CompactionThreshold: cfg.Engine.CompactionThreshold,
		Logger:              log,
	})
	if err != nil {
		log.Error("failed to open storage engine", "error", err)
		os.Exit(1)
	}

	tcpServer := server.New(cfg.Server.Addr, engine, log)
	adminServer := admin.New(cfg.Server.AdminAddr, engine, log)

	errc := make(chan error, 2)
	go func() { errc <- tcpServer.Serve() }()
	go func() { errc <- adminServer.Serve() }()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errc:
		if err != nil {
			log.Error("server error", "error", err)
		}
	}

	if err := tcpServer.Close(); err != nil {
		log.Warn("failed to close tcp server", "error", err)
	}
	if err := adminServer.Close(); err != nil {
		log.Warn("failed to close admin server", "error", err)
	}
	if err := engine.Close(); err != nil {
		log.Error("failed to close storage engine", "error", err)
		os.Exit(1)
	}

	log.Info("lsmkvd stopped")
}
