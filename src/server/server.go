package server

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	logger "github.com/sirupsen/logrus"

	"orderengine/src/database"
	"orderengine/src/kvstore"
)

// StartServer runs the engine on database.MainDB until SIGINT or SIGTERM.
// The database must be initialised before calling it.
func StartServer() error {
	if database.MainDB == nil {
		return fmt.Errorf("main database is not initialised")
	}

	opts := LoadOptions()

	kv, err := kvstore.Open(opts.KV.Path)
	if err != nil {
		return fmt.Errorf("open kv store: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.WithError(err).Error("kv store close error")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := NewApp(opts, database.MainDB, kv, logger.NewEntry(logger.StandardLogger()))
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:    opts.Server.Addr(),
		Handler: app.Router(),
	}
	return app.Serve(ctx, srv)
}
