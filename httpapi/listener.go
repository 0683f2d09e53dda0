package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/sambena/edgegate/logger"
)

// Listener wraps the HTTP server with graceful start/stop semantics.
type Listener struct {
	logger  logger.Logger
	server  *http.Server
	tlsCert string
	tlsKey  string
	useTLS  bool
	stopped atomic.Bool
}

type ListenerConfig struct {
	Logger      logger.Logger
	Address     string
	TLSCertFile string
	TLSKeyFile  string
	TLSEnabled  bool
}

func NewListener(cfg ListenerConfig, handler http.Handler) (*Listener, error) {
	if cfg.Address == "" {
		return nil, errors.New("listener address is required")
	}
	if cfg.TLSEnabled && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return nil, errors.New("TLS is enabled but cert or key file is missing")
	}

	server := &http.Server{
		Addr:        cfg.Address,
		Handler:     handler,
		IdleTimeout: time.Minute,
		ReadHeaderTimeout: 10 * time.Second,
		// No ReadTimeout/WriteTimeout: uploads and downloads stream for
		// as long as the per-profile upstream budgets allow.
	}

	return &Listener{
		logger:  cfg.Logger,
		server:  server,
		tlsCert: cfg.TLSCertFile,
		tlsKey:  cfg.TLSKeyFile,
		useTLS:  cfg.TLSEnabled,
	}, nil
}

func (l *Listener) Addr() string {
	return l.server.Addr
}

// Start runs the server until ctx is cancelled or the server fails.
func (l *Listener) Start(ctx context.Context) error {
	l.logger.Info("starting HTTP server", logger.String("address", l.server.Addr))

	errChan := make(chan error, 1)
	go func() {
		var err error
		if l.useTLS {
			err = l.server.ListenAndServeTLS(l.tlsCert, l.tlsKey)
		} else {
			err = l.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP server error", logger.Err(err))
		return err
	}
}

// Stop shuts the server down gracefully. Safe to call more than once.
func (l *Listener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := l.server.Shutdown(ctx); err != nil {
		l.logger.Error("error shutting down the HTTP server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped gracefully")
	return nil
}
