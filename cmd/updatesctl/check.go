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

	"github.com/kentakayama/updates-over-http/internal/codesigning"
	"github.com/kentakayama/updates-over-http/internal/config"
	"github.com/kentakayama/updates-over-http/internal/infra/fetch"
	"github.com/kentakayama/updates-over-http/internal/infra/sqlite"
	"github.com/kentakayama/updates-over-http/internal/updates"
	"github.com/kentakayama/updates-over-http/resources"
)

func runCheck(args []string, stdout io.Writer) error {
	fs := newFlagSet("check")
	configPath := fs.String("config", defaultConfigPath, "config file")
	download := fs.Bool("download", false, "download the update when one is available")
	reload := fs.Bool("reload", false, "launch the downloaded update (implies --download)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	closer, err := setupLogging(cfg.Logs, "updatesctl")
	if err != nil {
		return err
	}
	defer closer.Close()
	logger := log.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.InitDB(ctx, cfg.Updates.DatabasePath)
	if err != nil {
		return err
	}
	defer sqlite.CloseDB(db)

	cs, err := codeSigningConfiguration(cfg.CodeSigning, logger)
	if err != nil {
		return err
	}
	fetcher, err := fetch.NewClient(config.FetchConfig{
		Timeout:     cfg.Updates.Timeout,
		InsecureTLS: cfg.Updates.InsecureTLS,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	embedded := func() ([]byte, error) { return resources.EmbeddedManifest, nil }
	if cfg.Updates.EmbeddedManifest != "" {
		embedded = func() ([]byte, error) { return os.ReadFile(cfg.Updates.EmbeddedManifest) }
	}

	controller, err := updates.NewController(updates.Options{
		Config:           cfg.Updates,
		CodeSigning:      cs,
		Fetcher:          fetcher,
		DB:               db,
		EmbeddedManifest: embedded,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	if err := controller.Init(ctx); err != nil {
		return err
	}
	if launched := controller.LaunchedUpdate(); launched != nil {
		fmt.Fprintf(stdout, "launched: %s\n", launched.ID)
	}

	res, err := controller.CheckForUpdate(ctx)
	if err != nil {
		return fmt.Errorf("check for update: %w", err)
	}
	fmt.Fprintf(stdout, "check: %s\n", res.Kind)
	if res.Update != nil {
		fmt.Fprintf(stdout, "update: %s (verified: %t, new: %t)\n", res.Update.ID, res.Update.IsVerified, res.IsNew)
	}
	if res.Kind == updates.CheckResultNoUpdate || (!*download && !*reload) {
		return nil
	}

	fetched, err := controller.FetchUpdate(ctx)
	if err != nil {
		return fmt.Errorf("fetch update: %w", err)
	}
	fmt.Fprintf(stdout, "fetch: %s (new: %t)\n", fetched.Update.ID, fetched.IsNew)
	if !*reload {
		return nil
	}

	launched, err := controller.Reload()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "reload: %s\n", launched.ID)
	return nil
}

// codeSigningConfiguration is nil when no certificate is configured.
func codeSigningConfiguration(cfg config.CodeSigningConfig, logger *log.Logger) (*codesigning.Configuration, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	certPEM, err := os.ReadFile(cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("read code signing certificate: %w", err)
	}
	return codesigning.NewConfiguration(codesigning.ConfigurationOptions{
		EmbeddedCertificate:                     string(certPEM),
		Metadata:                                cfg.Metadata,
		IncludeManifestResponseCertificateChain: cfg.IncludeManifestResponseCertificateChain,
		AllowUnsignedManifests:                  cfg.AllowUnsignedManifests,
		Logger:                                  logger,
	})
}
