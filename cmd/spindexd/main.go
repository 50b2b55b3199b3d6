// Command spindexd is the Silent Payments indexer daemon: it syncs
// eligible transactions from a Bitcoin Core node and serves the resulting
// index over HTTP, per spec.md §4.E/§4.F.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcsuite/btclog"

	"github.com/nlowe-sp/spindex/internal/api"
	"github.com/nlowe-sp/spindex/internal/config"
	"github.com/nlowe-sp/spindex/internal/logging"
	"github.com/nlowe-sp/spindex/internal/prevout"
	"github.com/nlowe-sp/spindex/internal/rpcclient"
	"github.com/nlowe-sp/spindex/internal/store"
	"github.com/nlowe-sp/spindex/internal/syncer"
	"github.com/nlowe-sp/spindex/internal/tweak"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "spindexd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level, ok := btclog.LevelFromString(cfg.LogLevel)
	if !ok {
		level = btclog.LevelInfo
	}
	logPath := ""
	if cfg.LogDir != "" {
		logPath = filepath.Join(cfg.LogDir, "spindexd.log")
	}
	if err := logging.Init(logPath); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer logging.Close()

	syncLog := logging.Logger(logging.SubsystemSync, level)
	storeLog := logging.Logger(logging.SubsystemStore, level)
	httpLog := logging.Logger(logging.SubsystemHTTP, level)
	engnLog := logging.Logger(logging.SubsystemEngine, level)
	rpccLog := logging.Logger(logging.SubsystemRPC, level)

	syncer.UseLogger(syncLog)
	store.UseLogger(storeLog)
	api.UseLogger(httpLog)
	tweak.UseLogger(engnLog)
	rpcclient.UseLogger(rpccLog)

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	rpc := rpcclient.New(cfg.RPCURL, cfg.RPCUser, cfg.RPCPass)
	cache := prevout.NewCache(cfg.PrevoutCacheSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sync := syncer.New(rpc, db, cache, uint64(cfg.SyncFrom))
	syncErrCh := make(chan error, 1)
	go func() {
		syncErrCh <- sync.Run(ctx)
	}()

	httpServer := api.New(db)
	addr := fmt.Sprintf("%s:%d", cfg.ServerHost, cfg.ServerPort)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpServer.Run(ctx, addr)
	}()

	select {
	case err := <-syncErrCh:
		stop()
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("syncer stopped: %w", err)
		}
		return nil
	case err := <-httpErrCh:
		stop()
		if err != nil {
			return fmt.Errorf("http server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		<-syncErrCh
		<-httpErrCh
		return nil
	}
}
