/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kentakayama/updates-over-http/internal/config"
	"github.com/kentakayama/updates-over-http/internal/server"
)

const shutdownTimeout = 10 * time.Second

func runServe(args []string, _ io.Writer) error {
	fs := newFlagSet("serve")
	configPath := fs.String("config", defaultConfigPath, "config file")
	addr := fs.String("addr", "", "listen address (overrides server.addr)")
	updateDir := fs.String("update-directory", "", "directory of exported updates (overrides server.updateDirectory)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *updateDir != "" {
		cfg.Server.UpdateDirectory = *updateDir
	}
	closer, err := setupLogging(cfg.Logs, "updatesctl-serve")
	if err != nil {
		return err
	}
	defer closer.Close()
	cfg.Server.Logger = log.Default()

	srv, err := server.New(cfg.Server)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("Shutting down update server.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
