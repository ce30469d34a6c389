// Package httpapi is the public HTTP surface: scan and receipt uploads,
// session lookups and the payout rail webhook.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"reflect"
	"time"

	"github.com/dmitrijs2005/scanrebate/internal/logging"
	"github.com/dmitrijs2005/scanrebate/internal/server/config"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/dmitrijs2005/scanrebate/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// multipartOverhead is allowed on top of the largest accepted image for
// form fields and part headers.
const multipartOverhead = 64 << 10

const shutdownTimeout = 10 * time.Second

// Gate accepts submissions and answers session lookups.
type Gate interface {
	SubmitScan(ctx context.Context, sub services.ScanSubmission) (*models.ScanRecord, error)
	SubmitReceipt(ctx context.Context, sub services.ReceiptSubmission) (*models.ReceiptRecord, error)
	Session(ctx context.Context, sessionID string) (*services.SessionInfo, error)
}

// DeliveryListener consumes authenticated payout delivery events.
type DeliveryListener interface {
	OnDeliveryEvent(ctx context.Context, ev models.DeliveryEvent) (bool, error)
}

type Server struct {
	address          string
	gate             Gate
	deliveries       DeliveryListener
	webhookSecret    []byte
	webhookTolerance time.Duration
	maxImageBytes    int64
	validate         *validator.Validate
	logger           logging.Logger
	now              func() time.Time
}

func NewServer(address string, gate Gate, deliveries DeliveryListener, cfg *config.Config, l logging.Logger) *Server {
	return &Server{
		address:          address,
		gate:             gate,
		deliveries:       deliveries,
		webhookSecret:    []byte(cfg.PayoutWebhookSecret),
		webhookTolerance: cfg.WebhookTolerance,
		maxImageBytes:    cfg.Policy.MaxImageBytes,
		validate:         newValidator(),
		logger:           l.With("module", "http_server"),
		now:              time.Now,
	}
}

// newValidator reports fields by their form names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("form"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scans", s.handleSubmitScan)
		r.Post("/receipts", s.handleSubmitReceipt)
		r.Get("/sessions/{sessionID}", s.handleGetSession)
		r.Post("/webhooks/payouts", s.handlePayoutWebhook)
	})

	return r
}

// Run serves on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listen)
}

// Serve accepts connections on lis and shuts down gracefully when ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	stopped := make(chan error, 1)
	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		stopped <- srv.Shutdown(sctx)
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return <-stopped
}
