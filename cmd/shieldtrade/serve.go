package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"shieldtrade/internal/authz"
	"shieldtrade/internal/binding"
	"shieldtrade/internal/logger"
	"shieldtrade/internal/offer"
	"shieldtrade/internal/oplog"
	"shieldtrade/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local HTTP API over an offer session",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := appConfig
	log := logger.Log

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("authorization store: %w", err)
	}
	defer store.close()

	conn, err := openChain(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer conn.close()

	metrics := server.NewMetrics(nil)
	activity := oplog.New(oplog.DefaultCapacity)

	repaint := cfg.Service.RepaintDelay
	if repaint == 0 {
		repaint = -1
	}

	session, err := offer.NewSession(offer.Options{
		Resolver:       binding.NewResolver(conn.deployments, log),
		Authorizations: authz.NewCache(store.store, cfg.Decryption.DurationDays, log),
		FHE:            conn.fhe,
		Sink:           activity,
		Logger:         log,
		Metrics:        offer.NewMetrics(metrics.Registry()),
		RepaintDelay:   repaint,
	})
	if err != nil {
		return err
	}
	session.SetAccount(conn.account)

	chainID := conn.chainID
	if err := session.Connect(ctx, &chainID, conn.reader); err != nil {
		log.Warn("initial offer refresh failed", zap.Uint64("chain_id", chainID), zap.Error(err))
	}

	apiServer := server.NewServer(cfg, server.Deps{
		Session:     session,
		Log:         activity,
		Metrics:     metrics,
		RPCHealth:   conn.ping,
		StoreHealth: store.ping,
		Logger:      log,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return apiServer.Shutdown(shutdownCtx)
}
