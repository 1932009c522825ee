// Command mockserver serves synthetic emotion results over the realtime
// WebSocket protocol for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"moodwire/internal/mockserver"
	"moodwire/log"
	"moodwire/shutdown"
)

func main() {
	addr := flag.String("addr", "localhost:8004", "listen address")
	latency := flag.Duration("latency", 150*time.Millisecond, "simulated inference time per result")
	logPath := flag.String("logpath", "", "diagnostics log directory")
	level := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	dir, err := log.ResolveDir(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "log dir: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(dir)
	if err := log.SetLevel(*level); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "log init: %v\n", err)
	}
	defer log.Close()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mockserver.New(mockserver.Options{Latency: *latency}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := shutdown.Context(context.Background())
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("mockserver listening on ws://%s%s\n", *addr, mockserver.Path)
	log.Infof("mockserver: listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "mockserver: %v\n", err)
		os.Exit(1)
	}
}
