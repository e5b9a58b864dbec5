/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var deliverRecover bool

var deliverOnceCmd = &cobra.Command{
	Use:   "deliver-once",
	Short: "Run a single delivery cycle and exit",
	Long: `Claim the reminders that are due now, deliver them through the configured
channel and record every attempt. Useful from cron or when debugging a channel.

Examples:
  # Deliver everything due
  interviewd deliver-once

  # Requeue expired claims first
  interviewd deliver-once --recover
`,
	RunE: runDeliverOnce,
}

func init() {
	deliverOnceCmd.Flags().BoolVar(&deliverRecover, "recover", false, "Requeue jobs whose claim lease expired before delivering")
	rootCmd.AddCommand(deliverOnceCmd)
}

func runDeliverOnce(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	app, closeDB, err := openApp()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	if deliverRecover {
		n, err := app.Maintainer.RecoverExpired(ctx)
		if err != nil {
			return fmt.Errorf("recover expired claims: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "recovered %d expired claim(s)\n", n)
	}

	stats, err := app.Pool.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("delivery cycle: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "claimed=%d sent=%d retried=%d failed=%d superseded=%d\n",
		stats.Claimed, stats.Sent, stats.Retried, stats.Failed, stats.Superseded)
	return nil
}
