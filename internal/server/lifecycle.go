// Package server coordinates the long-running components of the
// process: it starts them in registration order, watches for the first
// failure or a termination signal, and stops them in reverse order.
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running component. Start blocks until the service
// exits or fails; Stop asks a running service to exit.
type Service interface {
	Start() error
	Stop()
}

// FuncService adapts a start/stop function pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// stopGrace bounds how long shutdown waits for Start calls to return
// after every Stop has been delivered.
const stopGrace = 10 * time.Second

// Lifecycle runs a set of named services as a unit. The first service
// failure, a SIGINT/SIGTERM, or cancellation of the Run context tears
// the whole set down.
type Lifecycle struct {
	logger *zap.Logger

	mu       sync.Mutex
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle creates an empty lifecycle.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a service under a name used in log output. Services
// are started in the order they were added and stopped in reverse.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every registered service and blocks until one of them
// fails, a termination signal arrives, or ctx is cancelled. It then
// stops the services in reverse order and waits, up to a grace period,
// for their Start calls to return.
//
// Postcondition: every service has been asked to stop when Run
// returns. Returns the error of the service that triggered shutdown,
// or nil for a signal or context shutdown.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	l.mu.Lock()
	services := make([]namedService, len(l.services))
	copy(services, l.services)
	l.mu.Unlock()

	var running sync.WaitGroup
	errCh := make(chan error, len(services))
	for _, ns := range services {
		ns := ns
		running.Add(1)
		go func() {
			defer running.Done()
			l.logger.Info("starting service", zap.String("service", ns.name))
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed",
					zap.String("service", ns.name),
					zap.Error(err),
				)
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}
	l.logger.Info("all services started", zap.Int("count", len(services)))

	var cause error
	select {
	case cause = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(cause))
	case <-ctx.Done():
		l.logger.Info("shutdown requested")
	}

	l.shutdown(services, &running)

	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
	return cause
}

// shutdown stops services in reverse registration order, then waits
// for the start goroutines to drain.
func (l *Lifecycle) shutdown(services []namedService, running *sync.WaitGroup) {
	for i := len(services) - 1; i >= 0; i-- {
		ns := services[i]
		stopStart := time.Now()
		ns.service.Stop()
		l.logger.Info("service stopped",
			zap.String("service", ns.name),
			zap.Duration("elapsed", time.Since(stopStart)),
		)
	}

	drained := make(chan struct{})
	go func() {
		running.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(stopGrace):
		l.logger.Warn("services still running after grace period",
			zap.Duration("grace", stopGrace),
		)
	}
}
