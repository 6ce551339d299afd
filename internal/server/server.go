package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"

	"github.com/wpnpeiris/fs-s3/internal/cors"
	"github.com/wpnpeiris/fs-s3/internal/event"
	"github.com/wpnpeiris/fs-s3/internal/logging"
	"github.com/wpnpeiris/fs-s3/internal/metrics"
	"github.com/wpnpeiris/fs-s3/internal/s3api"
	"github.com/wpnpeiris/fs-s3/internal/store"
)

// GatewayServer ties the object store, event bus and S3 API gateway to an
// HTTP listener.
type GatewayServer struct {
	logger    log.Logger
	opts      *Options
	bus       *event.Bus
	store     *store.Store
	s3Gateway *s3api.S3Gateway

	httpServer *http.Server
	listener   net.Listener
}

// NewGatewayServer constructs a server from options. When no data directory
// is configured a fresh temporary directory is created.
func NewGatewayServer(opts *Options) (*GatewayServer, error) {
	logger := logging.NewLogger(logging.Config{
		Format: opts.LogFormat,
		Level:  opts.LogLevel,
		Silent: opts.Silent,
	})

	if opts.Directory == "" {
		dir, err := os.MkdirTemp("", "fs-s3-*")
		if err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
		opts.Directory = dir
	}

	var serverCORS *cors.Configuration
	if opts.CORSFile != "" {
		doc, err := os.ReadFile(opts.CORSFile)
		if err != nil {
			return nil, fmt.Errorf("read CORS configuration: %w", err)
		}
		serverCORS, err = cors.Parse(doc)
		if err != nil {
			return nil, err
		}
	}

	bus := event.NewBus(logger)
	st, err := store.New(logger, opts.Directory, bus)
	if err != nil {
		return nil, err
	}

	s3Gateway := s3api.NewS3Gateway(logger, st, s3api.S3GatewayOptions{
		Hostname:      opts.Hostname,
		CORS:          serverCORS,
		CORSDisabled:  opts.NoCORS,
		IndexDocument: opts.IndexDocument,
		ErrorDocument: opts.ErrorDocument,
	})

	router := mux.NewRouter()
	metrics.RegisterMetricEndpoint(router)
	s3Gateway.RegisterRoutes(router)

	srv := &http.Server{
		// Handler wraps the router so virtual-host-style requests are
		// rewritten to path-style before route matching.
		Handler: s3Gateway.Handler(router),
		// ReadTimeout covers the time from connection accept to request body
		// read completion, which must allow large object uploads.
		ReadTimeout: opts.ReadTimeout,
		// WriteTimeout covers the time from request header read to response
		// write completion, which must allow large object downloads.
		WriteTimeout: opts.WriteTimeout,
		// IdleTimeout bounds keep-alive connections between requests.
		IdleTimeout: opts.IdleTimeout,
		// ReadHeaderTimeout prevents slowloris attacks by limiting time to read request headers.
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
		// MaxHeaderBytes limits the size of request headers to prevent memory exhaustion.
		MaxHeaderBytes: 1 << 20, // 1 MB
	}

	return &GatewayServer{
		logger:     logger,
		opts:       opts,
		bus:        bus,
		store:      st,
		s3Gateway:  s3Gateway,
		httpServer: srv,
	}, nil
}

// Listen binds the configured address without serving yet. With port 0 the
// kernel picks a free port, visible through Addr afterwards.
func (s *GatewayServer) Listen() error {
	if s.listener != nil {
		return errors.New("server is already listening")
	}
	ln, err := net.Listen("tcp", s.opts.ServerListen)
	if err != nil {
		return fmt.Errorf("bind %s: %w", s.opts.ServerListen, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound listen address, or nil before Listen.
func (s *GatewayServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Events returns the bucket notification bus for subscribers.
func (s *GatewayServer) Events() *event.Bus {
	return s.bus
}

// Store returns the underlying object store.
func (s *GatewayServer) Store() *store.Store {
	return s.store
}

// Serve accepts connections until Shutdown, binding first when Listen was not
// called. With both TLS files configured the server speaks HTTPS.
func (s *GatewayServer) Serve() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	scheme := "http"
	if s.tlsConfigured() {
		scheme = "https"
	}
	logging.Info(s.logger, "msg", fmt.Sprintf("Listening for %s requests on %v (data root %s)",
		scheme, s.Addr(), s.store.Root()))

	if s.tlsConfigured() {
		return s.httpServer.ServeTLS(s.listener, s.opts.CertFile, s.opts.KeyFile)
	}
	return s.httpServer.Serve(s.listener)
}

func (s *GatewayServer) tlsConfigured() bool {
	return s.opts.CertFile != "" && s.opts.KeyFile != ""
}

// Shutdown drains in-flight requests, detaches event subscribers and, when
// configured, deletes every bucket under the data root.
func (s *GatewayServer) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.bus.Close()
	if s.opts.RemoveBucketsOnClose {
		if rmErr := s.store.RemoveAllBuckets(); rmErr != nil {
			err = errors.Join(err, rmErr)
		}
	}
	logging.Info(s.logger, "msg", "Server stopped")
	return err
}

// LogAndExit reports a fatal startup error and terminates the process.
func LogAndExit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
