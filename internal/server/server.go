/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package server

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kentakayama/updates-over-http/internal/codesigning"
	"github.com/kentakayama/updates-over-http/internal/config"
)

// Server wires the HTTP listener and request handling stack.
type Server struct {
	cfg     config.ServerConfig
	handler *handler
	http    *http.Server
	logger  *log.Logger
}

// New constructs a Server using the provided configuration.
func New(cfg config.ServerConfig) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	if cfg.UpdateDirectory == "" {
		return nil, errors.New("server.updateDirectory is required")
	}
	if fi, err := os.Stat(cfg.UpdateDirectory); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("update directory %q is not a directory", cfg.UpdateDirectory)
	}

	var signingKey *rsa.PrivateKey
	if cfg.PrivateKey != "" {
		pemBytes, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signingKey, err = codesigning.ParsePrivateKeyPEM(string(pemBytes))
		if err != nil {
			return nil, err
		}
	}

	var certificateChain string
	if cfg.CertificateChain != "" {
		pemBytes, err := os.ReadFile(cfg.CertificateChain)
		if err != nil {
			return nil, fmt.Errorf("read certificate chain: %w", err)
		}
		if len(codesigning.SeparateCertificateChain(string(pemBytes))) == 0 {
			return nil, fmt.Errorf("%s: %w", cfg.CertificateChain, codesigning.ErrCertificateEncoding)
		}
		certificateChain = string(pemBytes)
	}

	h := newHandler(cfg, signingKey, certificateChain, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{
		cfg:     cfg,
		handler: h,
		http:    httpSrv,
		logger:  logger,
	}, nil
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Printf("Run update server on %s, serving %s.", s.http.Addr, s.cfg.UpdateDirectory)

	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully takes down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
