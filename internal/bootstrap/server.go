package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/api"
	"github.com/medwatch/compliance-manager/internal/compliance"
	"github.com/medwatch/compliance-manager/internal/config"
	"github.com/medwatch/compliance-manager/internal/dashboard"
	"github.com/medwatch/compliance-manager/internal/database"
	"github.com/medwatch/compliance-manager/internal/events"
	"github.com/medwatch/compliance-manager/internal/extractor"
	"github.com/medwatch/compliance-manager/internal/handlers"
	"github.com/medwatch/compliance-manager/internal/logger"
	"github.com/medwatch/compliance-manager/internal/repository"
	"github.com/medwatch/compliance-manager/internal/robots"
	"github.com/medwatch/compliance-manager/internal/scheduler"
)

const shutdownTimeout = 15 * time.Second

// Server owns the HTTP listener and the background scheduler runner.
type Server struct {
	http   *http.Server
	runner *scheduler.Runner
	logger logger.Logger
}

// SetupHTTPServer wires repositories, the validator, the scheduler, and
// the HTTP router.
func SetupHTTPServer(
	cfg *config.Config,
	db *database.DB,
	publisher *events.Publisher,
	log logger.Logger,
) (*Server, error) {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	sourceRepo := repository.NewSourceRepository(db.DB(), log)
	validationRepo := repository.NewValidationRepository(db.DB())
	auditRepo := repository.NewAuditRepository(db.DB())
	automationRepo := repository.NewAutomationLogRepository(db.DB())
	noticeRepo := repository.NewNoticeRepository(db.DB(), log)

	checker := robots.NewHTTPChecker(nil, cfg.Scraper.UserAgent)
	validator := compliance.NewValidator(sourceRepo, validationRepo, checker, publisher, log,
		compliance.WithErrorThreshold(cfg.Scheduler.ErrorThreshold),
	)

	extract := extractor.NewMetadataExtractor(log, nil, cfg.Scraper.UserAgent)
	sched := scheduler.New(sourceRepo, automationRepo, validator, extract, log,
		scheduler.WithRunTimeout(cfg.Scheduler.RunTimeout),
		scheduler.WithConcurrency(cfg.Scheduler.Concurrency),
	)

	aggregator := dashboard.NewAggregator(db.DB(), sourceRepo, validationRepo, automationRepo, log)

	router := api.NewRouter(api.Handlers{
		Sources:    handlers.NewSourceHandler(sourceRepo, log),
		Compliance: handlers.NewComplianceHandler(validator, sourceRepo, validationRepo, auditRepo, noticeRepo, automationRepo, log),
		Dashboard:  handlers.NewDashboardHandler(aggregator, log),
		Schedule:   handlers.NewScheduleHandler(sched, log),
		Import:     handlers.NewImportHandler(sourceRepo, log),
	}, cfg.Server.CORSOrigins, log)

	var runner *scheduler.Runner
	if cfg.Scheduler.Enabled {
		runner = scheduler.NewRunner(sched, sourceRepo, log)
	}

	return &Server{
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		runner: runner,
		logger: log,
	}, nil
}

// Run starts the background runner and the HTTP listener, then blocks
// until SIGINT/SIGTERM or a listener error. Shutdown drains in-flight
// requests and stops the runner; stopping the runner waits for running
// jobs so in-progress runs still write their completion entries.
func (s *Server) Run() error {
	if s.runner != nil {
		if err := s.runner.Start(); err != nil {
			return fmt.Errorf("start scheduler runner: %w", err)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if s.runner != nil {
			s.runner.Stop()
		}
		return err
	case sig := <-quit:
		s.logger.Info("Shutdown signal received",
			logger.String("signal", sig.String()),
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown failed", logger.Error(err))
	}
	if s.runner != nil {
		s.runner.Stop()
	}
	return nil
}
