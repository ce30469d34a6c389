// Package server wires the rebate server together: storage backend,
// evidence store, external collaborators, services and the two APIs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/classifier"
	"github.com/dmitrijs2005/scanrebate/internal/server/config"
	"github.com/dmitrijs2005/scanrebate/internal/server/evidence"
	"github.com/dmitrijs2005/scanrebate/internal/server/httpapi"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/payoutrail"
	"github.com/dmitrijs2005/scanrebate/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/scanrebate/internal/server/grpc"
)

const (
	queueDrainTimeout = 30 * time.Second
	requeueLimit      = 500
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	manager repomanager.RepositoryManager
	queue   *services.ReviewQueue
	payout  *services.PayoutService
	http    *httpapi.Server
	grpc    *gs.GRPCServer
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSON(os.Stdout, c.LogLevel)

	manager, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}

	ev, err := openEvidence(ctx, c)
	if err != nil {
		manager.Close()
		return nil, err
	}

	return newApp(c, logger, manager, ev, newClassifier(c, logger), newRail(c, logger)), nil
}

// newApp builds the services over already opened dependencies.
func newApp(c *config.Config, logger logging.Logger, manager repomanager.RepositoryManager,
	ev evidence.Store, cls classifier.Classifier, rail payoutrail.Rail) *App {

	p := c.Policy
	payoutPolicy := p.PayoutPolicy()

	limiter := services.NewRateLimiter()
	sessions := services.NewSessionRegistry(p.SessionPrefix, p.SessionValidity)
	reconcile := services.NewReconcileService(manager, limiter, payoutPolicy, logger)
	payout := services.NewPayoutService(manager, rail, limiter, payoutPolicy, reconcile, logger,
		services.WithRailTimeout(c.PayoutTimeout))
	review := services.NewReviewService(manager, payout, p.ConfidenceThreshold, logger)
	queue := services.NewReviewQueue(review, logger,
		services.WithWorkers(c.ReviewWorkers),
		services.WithQueueSize(c.ReviewQueueSize),
		services.WithJobTimeout(c.ReviewJobTimeout),
	)
	gate := services.NewSubmissionGate(manager, cls, ev, limiter, sessions, queue, p, logger)
	operators := services.NewOperatorService(manager, ev, c, logger)

	return &App{
		config:  c,
		logger:  logger,
		manager: manager,
		queue:   queue,
		payout:  payout,
		http:    httpapi.NewServer(c.HTTPAddr, gate, reconcile, c, logger),
		grpc:    gs.NewGRPCServer(c.GRPCAddr, logger, operators, review, payout),
	}
}

func openStore(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.StorageBackend {
	case config.StorageMemory:
		return repomanager.NewInMemoryRepositoryManager(), nil
	case config.StoragePostgres:
		m, err := repomanager.OpenPostgres(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		if err := m.RunMigrations(ctx); err != nil {
			m.Close()
			return nil, fmt.Errorf("db migration error: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
}

// openEvidence keeps images in memory for the memory backend and in S3
// otherwise.
func openEvidence(ctx context.Context, c *config.Config) (evidence.Store, error) {
	if c.StorageBackend == config.StorageMemory {
		return evidence.NewMemoryStore(), nil
	}
	s, err := evidence.NewS3Store(ctx, evidence.S3Config{
		Region:       c.S3Region,
		AccessKey:    c.S3RootUser,
		SecretKey:    c.S3RootPassword,
		BaseEndpoint: c.S3BaseEndpoint,
		Bucket:       c.S3Bucket,
		URLValidity:  c.EvidenceURLValidity,
	})
	if err != nil {
		return nil, fmt.Errorf("evidence store init error: %w", err)
	}
	return s, nil
}

func newClassifier(c *config.Config, l logging.Logger) classifier.Classifier {
	if c.ClassifierMode == config.ClassifierHTTP {
		return classifier.NewHTTPClassifier(c.ClassifierURL, c.ClassifierTimeout, &http.Client{}, l)
	}
	return classifier.NewStub()
}

func newRail(c *config.Config, l logging.Logger) payoutrail.Rail {
	return payoutrail.NewClient(payoutrail.Config{
		BaseURL:      c.PayoutBaseURL,
		TokenURL:     c.PayoutTokenURL,
		ClientID:     c.PayoutClientID,
		ClientSecret: c.PayoutClientSecret,
		Timeout:      c.PayoutTimeout,
	}, &http.Client{Timeout: c.PayoutTimeout}, l)
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// requeuePending hands submitted receipts left over from a previous run
// back to the auto-review queue. Deferred ones are skipped by AutoReview.
func (app *App) requeuePending(ctx context.Context) {
	pending, err := app.manager.Repositories().Receipts().ListByStatus(ctx, models.ReceiptSubmitted, requeueLimit)
	if err != nil {
		app.logger.Error(ctx, "listing pending receipts failed", "error", err)
		return
	}
	n := 0
	for _, rec := range pending {
		if rec.ReviewReason != "" {
			continue
		}
		if err := app.queue.Enqueue(ctx, rec.ID); err != nil {
			app.logger.Warn(ctx, "requeue failed", "receipt_id", rec.ID, "error", err)
			return
		}
		n++
	}
	if n > 0 {
		app.logger.Info(ctx, "pending receipts requeued", "count", n)
	}
}

// expireStalePayouts parks payouts whose result a previous run never
// recorded, so an operator can resolve them.
func (app *App) expireStalePayouts(ctx context.Context) {
	n, err := app.payout.ExpireStale(ctx)
	if err != nil {
		app.logger.Error(ctx, "expiring stale payouts failed", "error", err)
		return
	}
	if n > 0 {
		app.logger.Warn(ctx, "stale payouts parked as unknown", "count", n)
	}
}

// Run serves both APIs until a signal arrives or one of them fails, then
// drains the review queue and closes the store.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.StorageBackend)

	app.initSignalHandler(cancelFunc)

	app.queue.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return app.http.Run(gctx) })
	g.Go(func() error { return app.grpc.Run(gctx) })
	g.Go(func() error {
		app.expireStalePayouts(gctx)
		app.requeuePending(gctx)
		<-gctx.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), queueDrainTimeout)
		defer cancel()
		return app.queue.Shutdown(dctx)
	})

	err := g.Wait()

	if cerr := app.manager.Close(); cerr != nil {
		app.logger.Error(ctx, "closing store failed", "error", cerr)
	}

	app.logger.Info(ctx, "App stopped")
	return err
}
