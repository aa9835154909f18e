package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kiln/internal/config"
	"kiln/internal/daemon"
	"kiln/internal/hub"
	"kiln/internal/inference"
	"kiln/internal/logging"
	"kiln/internal/queue"
	"kiln/internal/store"
	"kiln/internal/worker"
	"kiln/internal/workflow"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("ensure directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		os.Exit(1)
	}

	q := queue.New(cfg.Queue.MaxSize, logger)
	q.AttachMirror(st)

	h := hub.New(time.Duration(cfg.Hub.SendTimeout)*time.Second, logger)
	v := buildVRAMManager(cfg, logger)
	machine := workflow.NewMachine(st, h, logger)

	wk := worker.New(cfg, q, h, v, machine, &inference.SimulatedPreprocessor{}, logger)
	registerHandlers(wk, cfg)

	d, err := daemon.New(cfg, st, q, h, v, machine, wk, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		os.Exit(1)
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("kilnd shutting down")
	d.Stop()
}
