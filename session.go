package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/ledgersync/internal/cloud"
	"github.com/tonimelisma/ledgersync/internal/config"
	"github.com/tonimelisma/ledgersync/internal/ledger"
	"github.com/tonimelisma/ledgersync/internal/tokenfile"
)

// engine bundles the per-session wiring shared by the sync-capable
// commands: local store, cloud client, outbound queue, and orchestrator.
type engine struct {
	cfg    *config.Config
	sess   *tokenfile.Session
	store  *ledger.SQLiteStore
	client *cloud.Client
	queue  *ledger.Queue
	orch   *ledger.Orchestrator
	logger *slog.Logger
}

// requireSession loads the stored session or fails with a login hint.
func requireSession() (*tokenfile.Session, error) {
	sess, err := tokenfile.Load(config.TokenPath())
	if err != nil {
		return nil, err
	}

	if sess == nil {
		return nil, fmt.Errorf("not logged in — run 'ledgersync login' first")
	}

	return sess, nil
}

// openLocalStore opens the device-local replica database. The open path
// runs migrations and the integrity verifier.
func openLocalStore(ctx context.Context, logger *slog.Logger) (*ledger.SQLiteStore, error) {
	return ledger.OpenStore(ctx, config.StatePath(), logger)
}

// buildEngine assembles the full sync engine for the current session.
// Callers own Close().
func buildEngine(ctx context.Context, logger *slog.Logger) (*engine, error) {
	sess, err := requireSession()
	if err != nil {
		return nil, err
	}

	store, err := openLocalStore(ctx, logger)
	if err != nil {
		return nil, err
	}

	client := cloud.NewClient(
		loadedCfg.Remote.BaseURL,
		newHTTPClient(),
		tokenfile.Source{Path: config.TokenPath()},
		logger,
	)

	remote := ledger.NewRemoteStore(client, logger)
	writer := ledger.NewCloudWriter(client, sess.UserID)

	// The orchestrator's connectivity belief gates opportunistic drains.
	var orch *ledger.Orchestrator
	queue := ledger.NewQueue(store, writer, func() bool { return orch.IsOnline() }, logger)
	orch = ledger.NewOrchestrator(
		store, remote, queue, store,
		sess.UserID, sess.Username, sess.DeviceID, logger,
	)

	return &engine{
		cfg:    loadedCfg,
		sess:   sess,
		store:  store,
		client: client,
		queue:  queue,
		orch:   orch,
		logger: logger,
	}, nil
}

// Close releases the engine's resources.
func (e *engine) Close() {
	e.orch.SessionEnded()

	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing local store", slog.String("error", err.Error()))
	}
}
