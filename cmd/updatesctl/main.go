/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

// updatesctl manages code signing material, checks an update server the way
// an app would, and serves exported updates.
package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/pflag"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kentakayama/updates-over-http/internal/config"
)

const defaultConfigPath = "updates.yaml"

type command struct {
	summary string
	run     func(args []string, stdout io.Writer) error
}

var commands = map[string]command{
	"codesigning:generate":  {summary: "generate a code signing key pair and certificate", run: runGenerate},
	"codesigning:configure": {summary: "configure the app to verify signed updates", run: runConfigure},
	"check":                 {summary: "check the update server for a new update", run: runCheck},
	"serve":                 {summary: "serve exported updates", run: runServe},
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		return nil
	}
	cmd, ok := commands[args[0]]
	if !ok {
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}
	err := cmd.run(args[1:], stdout)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	return err
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: updatesctl <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-24s %s\n", name, commands[name].summary)
	}
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}

// setupLogging sends the standard logger to stderr and, when a log directory
// is configured, to a rotating file in it.
func setupLogging(cfg config.LogConfig, name string) (io.Closer, error) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if cfg.Directory == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(cfg.Directory, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Directory, name+".log"),
		MaxSize:    cfg.MaxSizeMB,
		MaxAge:     cfg.MaxAgeDays,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator, nil
}
