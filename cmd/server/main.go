package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Tyrowin/roomchat/internal/filestore"
	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/Tyrowin/roomchat/internal/server"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/mama165/sdk-go/logs"
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// run wires the catalog, file store, relay and HTTP server, then blocks until
// a shutdown signal or a listener failure. Deferred cleanups run before main
// exits.
func run() (int, error) {
	cfg, err := server.LoadConfig()
	if err != nil {
		return 1, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(cfg.LogLevel)

	catalog, err := filestore.OpenCatalog(cfg.CatalogPath)
	if err != nil {
		return 1, fmt.Errorf("catalog opening failed: %w", err)
	}
	store := filestore.New(cfg.UploadDir, catalog, log)

	rl := relay.New(log, store, relay.Options{
		ChunkSize:  cfg.StreamChunkSize,
		EchoStream: cfg.EchoFileStream,
	})
	go rl.Run()

	srv := server.NewServer(cfg, rl, store, log)
	httpServer := server.CreateServer(cfg.Addr(), srv.Routes())

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting room chat server", "address", cfg.Addr(), "at", time.Now().UTC())
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			return server.ShutdownServer(ctx, httpServer, log)
		},
		"relay": func(ctx context.Context) error {
			return rl.Shutdown(remaining(ctx, cfg.ShutdownTimeout))
		},
		"catalog": func(context.Context) error {
			log.Info("Closing upload catalog...")
			return catalog.Close()
		},
	})

	select {
	case code := <-wait:
		log.Info("Program stopped", "exit_code", code)
		return code, nil
	case err := <-errChan:
		_ = rl.Shutdown(cfg.ShutdownTimeout)
		_ = catalog.Close()
		return 1, err
	}
}

func remaining(ctx context.Context, fallback time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}
	return fallback
}
