package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"orderengine/src/broadcast"
	"orderengine/src/handler"
	"orderengine/src/kvstore"
	"orderengine/src/pipeline"
	"orderengine/src/queue"
	"orderengine/src/repository"
	"orderengine/src/venue"
)

// Options bundles the per-component configuration the app is built from.
type Options struct {
	Server    Config
	Queue     queue.Config
	Pipeline  pipeline.Config
	Venue     venue.Config
	Broadcast broadcast.Config
	KV        kvstore.Config
}

// LoadOptions reads every component configuration from the environment.
func LoadOptions() Options {
	return Options{
		Server:    *GetConfig(),
		Queue:     queue.GetConfig(),
		Pipeline:  pipeline.GetConfig(),
		Venue:     venue.GetConfig(),
		Broadcast: broadcast.GetConfig(),
		KV:        kvstore.GetConfig(),
	}
}

// App owns the running engine: intake queue, execution pipeline, simulator and broadcaster.
type App struct {
	opts   Options
	logger *logrus.Entry

	orders *repository.OrderRepository
	hub    *broadcast.Broadcaster
	queue  *queue.Queue

	stopHeartbeat context.CancelFunc
}

// NewApp wires the engine on top of db and kv. Neither is closed by the app.
func NewApp(opts Options, db *gorm.DB, kv *kvstore.Store, logger *logrus.Entry) *App {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	orders := repository.NewOrderRepository().WithDB(db)
	exceptions := repository.NewExceptionRepository().WithDB(db)

	hub := broadcast.NewBroadcaster().WithSessions(kv, opts.Broadcast.SessionTTL)
	sim := venue.NewSimulator(opts.Venue, logger)
	exec := pipeline.NewExecutor(opts.Pipeline, logger, orders, sim, hub)

	qcfg := opts.Queue
	if qcfg.JobTTL <= 0 {
		qcfg.JobTTL = opts.KV.JobTTL
	}
	q := queue.New(qcfg, logger, exec, kv).WithExceptions(exceptions)

	return &App{
		opts:   opts,
		logger: logger.WithField("component", "server"),
		orders: orders,
		hub:    hub,
		queue:  q,
	}
}

// Router builds the HTTP surface. /history is registered ahead of /{orderId}.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/", handler.RootHandler(a.opts.Server.Version))
	r.Get("/health", handler.HealthHandler())

	r.Route("/api/orders", func(r chi.Router) {
		r.Post("/execute", handler.ExecuteOrderHandler(a.queue))
		r.Get("/ws/{orderId}", handler.OrderStreamHandler(a.hub, a.opts.Broadcast.WriteWait))
		r.Get("/metrics", handler.MetricsHandler(a.queue, a.hub))
		r.Get("/history", handler.OrderHistoryHandler(a.orders))
		r.Get("/{orderId}", handler.GetOrderHandler(a.orders))
	})

	c := cors.New(cors.Options{
		AllowedOrigins: a.opts.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(r)
}

// Start re-enqueues jobs left over from a previous process and launches the
// dispatcher and the heartbeat.
func (a *App) Start(ctx context.Context) error {
	recovered, err := a.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		a.logger.WithField("jobs", recovered).Info("recovered unfinished jobs")
	}

	hbCtx, stop := context.WithCancel(context.Background())
	a.stopHeartbeat = stop
	a.hub.StartHeartbeat(hbCtx, a.opts.Broadcast.HeartbeatInterval)

	a.queue.Start(context.Background())
	return nil
}

// Shutdown drains the queue, then closes every subscriber.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.queue.Shutdown(ctx)
	if a.stopHeartbeat != nil {
		a.stopHeartbeat()
	}
	a.hub.Close()
	return err
}

// Serve runs srv until ctx is done, then shuts the HTTP server and the app down
// within the configured timeout.
func (a *App) Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("Shutting down gracefully...")
	timeout := a.opts.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("http shutdown error")
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Error("queue shutdown error")
	}
	return serveErr
}
