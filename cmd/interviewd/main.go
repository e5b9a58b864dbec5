/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/channels"
	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/db"
	"github.com/friendsincode/interview_scheduler/internal/logging"
	"github.com/friendsincode/interview_scheduler/internal/server"
	"github.com/friendsincode/interview_scheduler/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "interviewd",
	Short: "Interview slot booking and reminder delivery",
	Long:  "interviewd owns interview slot state and delivers timezone-aware reminders to candidates.",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and delivery workers",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.ServiceName, version.String())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.String()).Msg("interviewd starting")

	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	httpServer := srv.HTTPServer()

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down gracefully...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if err := srv.Close(); err != nil {
		logger.Error().Err(err).Msg("shutdown cleanup failed")
	}

	logger.Info().Msg("interviewd stopped")
	return nil
}

// openApp connects and migrates the database and wires the core for a
// one-shot command. The returned func closes the database.
func openApp() (*server.App, func(), error) {
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	closeDB := func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}
	if err := db.Migrate(database); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	app, err := newApp(database)
	if err != nil {
		closeDB()
		return nil, nil, err
	}
	return app, closeDB, nil
}

func newApp(database *gorm.DB) (*server.App, error) {
	ch, err := channels.FromConfig(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("delivery channel: %w", err)
	}
	return server.NewApp(cfg, database, ch, clock.Real{}, logger)
}
