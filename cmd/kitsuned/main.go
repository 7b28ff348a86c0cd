// Command kitsuned runs the container search engine as a local sidecar
// process: a Minecraft server plugin talks to it over HTTP instead of
// embedding the engine in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kitsune/internal/config"
	"kitsune/internal/engine"
	"kitsune/internal/errlog"
	"kitsune/internal/sidecar"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var (
		configPath  string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "./data/config.json", "path to the JSON config file")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println("kitsuned dev build")
		return
	}

	if err := errlog.Init(); err != nil {
		log.Printf("warning: error log unavailable: %v", err)
	}

	cm, err := config.NewConfigManager(configPath)
	if err != nil {
		log.Fatalf("failed to set up config manager: %v", err)
	}
	if err := cm.Load(); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if !cm.IsReady() {
		log.Println("warning: embedding.api_key is not configured; indexing and search will fail until it is set")
	}

	eng, err := engine.New(cm)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	srv := sidecar.New(eng, nil)
	cfg := cm.Get()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv,
	}

	log.Printf("starting kitsuned on %s (db: %s, graph: %s)", addr, cfg.Storage.DBPath, cfg.Storage.GraphPath)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(httpServer, eng)
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains the container
// indexer, runs a final graph rebuild if dirty, and stops the HTTP server.
func waitForShutdown(srv *http.Server, eng *engine.Engine) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
	eng.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		if err := srv.Close(); err != nil {
			log.Printf("forced close failed: %v", err)
		}
	}

	log.Println("kitsuned stopped")
}
