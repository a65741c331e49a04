// Package server runs the HTTP and gRPC listeners with graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
)

type Config struct {
	EnableHTTP       bool          `yaml:"enable_http" envconfig:"HTTP_ENABLED"`
	EnableGRPC       bool          `yaml:"enable_grpc" envconfig:"GRPC_ENABLED"`
	HTTPPort         string        `yaml:"http_port" envconfig:"HTTP_PORT" validate:"required_if=EnableHTTP true"`
	GRPCPort         string        `yaml:"grpc_port" envconfig:"GRPC_PORT" validate:"required_if=EnableGRPC true"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout" envconfig:"HTTP_READ_TIMEOUT"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout" envconfig:"HTTP_WRITE_TIMEOUT"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`

	MTLSEnabled    bool   `yaml:"mtls_enabled" envconfig:"MTLS_ENABLED"`
	MTLSCACert     string `yaml:"mtls_ca_cert" envconfig:"MTLS_CA_CERT" validate:"required_if=MTLSEnabled true"`
	MTLSServerCert string `yaml:"mtls_server_cert" envconfig:"MTLS_SERVER_CERT" validate:"required_if=MTLSEnabled true"`
	MTLSServerKey  string `yaml:"mtls_server_key" envconfig:"MTLS_SERVER_KEY" validate:"required_if=MTLSEnabled true"`
}

func (c *Config) SetDefaults() {
	c.EnableHTTP = true
	c.EnableGRPC = true
	c.HTTPPort = "8080"
	c.GRPCPort = "9090"
	c.HTTPReadTimeout = 10 * time.Second
	c.HTTPWriteTimeout = 15 * time.Second
	c.ShutdownTimeout = 15 * time.Second
}

type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
	grpcSrv *grpc.Server
	httpSrv *http.Server
}

func New(cfg Config, logger *slog.Logger, handler http.Handler, grpcSrv *grpc.Server) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "server"),
		handler: handler,
		grpcSrv: grpcSrv,
	}
}

// Start serves until ctx is cancelled or a listener fails, then shuts both down.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 2)

	if s.cfg.EnableHTTP {
		s.httpSrv = &http.Server{
			Addr:              ":" + s.cfg.HTTPPort,
			Handler:           s.handler,
			ReadTimeout:       s.cfg.HTTPReadTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      s.cfg.HTTPWriteTimeout,
			IdleTimeout:       120 * time.Second,
		}

		if s.cfg.MTLSEnabled {
			tlsConfig, err := loadMTLSConfig(s.cfg.MTLSCACert)
			if err != nil {
				return fmt.Errorf("failed to load mTLS config: %w", err)
			}
			s.httpSrv.TLSConfig = tlsConfig
		}

		go func() {
			s.logger.Info("HTTP server starting", "port", s.cfg.HTTPPort, "mtls", s.cfg.MTLSEnabled)
			var err error
			if s.cfg.MTLSEnabled {
				err = s.httpSrv.ListenAndServeTLS(s.cfg.MTLSServerCert, s.cfg.MTLSServerKey)
			} else {
				err = s.httpSrv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errChan <- fmt.Errorf("http server failed: %w", err)
			}
		}()
	}

	if s.cfg.EnableGRPC && s.grpcSrv != nil {
		lis, err := net.Listen("tcp", ":"+s.cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("failed to listen grpc: %w", err)
		}
		go func() {
			s.logger.Info("gRPC server starting", "port", s.cfg.GRPCPort)
			if err := s.grpcSrv.Serve(lis); err != nil {
				errChan <- fmt.Errorf("grpc server failed: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down servers")
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return err
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	if s.httpSrv != nil {
		if e := s.httpSrv.Shutdown(ctx); e != nil {
			s.logger.Error("HTTP shutdown error", "error", e)
			err = e
		}
	}

	if s.grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			s.grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.grpcSrv.Stop()
		}
	}
	return err
}

func loadMTLSConfig(caPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("could not read CA cert: %w", err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to append CA cert")
	}

	return &tls.Config{
		ClientCAs:  pool,
		ClientAuth: tls.RequireAndVerifyClientCert,
		MinVersion: tls.VersionTLS12,
	}, nil
}
