/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/reminders"
	"github.com/friendsincode/interview_scheduler/internal/slots"
)

var historyCmd = &cobra.Command{
	Use:   "history <slot-id>",
	Short: "Show every delivery attempt for a slot, oldest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var (
	transitionAction    string
	transitionActor     string
	transitionCandidate string
	transitionStart     string
	transitionForce     bool
	transitionYes       bool
)

var transitionCmd = &cobra.Command{
	Use:   "transition <slot-id>",
	Short: "Apply a state change to a slot",
	Long: `Apply book, approve, reject, confirm, cancel, restore or reschedule to a slot
and recompute its reminders in the same transaction.

Cancelling a slot that has a candidate requires --force, and --force always
asks for confirmation unless --yes is given.

Examples:
  interviewd transition 5f0c... --action approve --actor recruiter:irina
  interviewd transition 5f0c... --action book --candidate 9a1e...
  interviewd transition 5f0c... --action reschedule --start 2025-03-30T10:00:00Z
  interviewd transition 5f0c... --action cancel --force
`,
	Args: cobra.ExactArgs(1),
	RunE: runTransition,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute <slot-id>",
	Short: "Recompute a slot's reminders from its current state",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecompute,
}

func init() {
	transitionCmd.Flags().StringVar(&transitionAction, "action", "", "Action to apply (required)")
	transitionCmd.Flags().StringVar(&transitionActor, "actor", "cli", "Who is making the change, for the log")
	transitionCmd.Flags().StringVar(&transitionCandidate, "candidate", "", "Candidate id for book")
	transitionCmd.Flags().StringVar(&transitionStart, "start", "", "New start for reschedule (RFC 3339)")
	transitionCmd.Flags().BoolVar(&transitionForce, "force", false, "Allow destructive actions on slots with a candidate")
	transitionCmd.Flags().BoolVarP(&transitionYes, "yes", "y", false, "Skip the confirmation prompt for --force")
	_ = transitionCmd.MarkFlagRequired("action")

	rootCmd.AddCommand(historyCmd, transitionCmd, recomputeCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	app, closeDB, err := openApp()
	if err != nil {
		return err
	}
	defer closeDB()

	rows, err := app.Log.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), rows)
	return nil
}

func printHistory(w io.Writer, rows []models.NotificationLog) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no delivery attempts")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIMESTAMP\tKIND\tATTEMPT\tRESULT\tCHANNEL\tCODE\tRECEIPT")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Timestamp.UTC().Format(time.RFC3339), r.Kind, r.AttemptNo, r.Result, r.Channel, dash(r.ErrorCode), dash(r.Receipt))
	}
	_ = tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runTransition(cmd *cobra.Command, args []string) error {
	action, err := slots.ParseAction(transitionAction)
	if err != nil {
		return err
	}
	req := slots.Request{
		Action:      action,
		Actor:       transitionActor,
		CandidateID: transitionCandidate,
		Force:       transitionForce,
	}
	if transitionStart != "" {
		start, err := time.Parse(time.RFC3339, transitionStart)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		req.StartUTC = start.UTC()
	}

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	if req.Force && !transitionYes && !confirm(in, out, fmt.Sprintf("Force %s on slot %s?", action, args[0])) {
		fmt.Fprintln(out, "Transition cancelled.")
		return nil
	}

	if err := loadConfig(); err != nil {
		return err
	}
	app, closeDB, err := openApp()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := cmd.Context()
	slot, err := app.Machine.Load(ctx, args[0])
	if err != nil {
		return err
	}

	result, err := app.Machine.Apply(ctx, slot, req)
	if errors.Is(err, slots.ErrRequiresForce) && !req.Force {
		for _, hint := range errors.GetAllHints(err) {
			fmt.Fprintln(out, hint)
		}
		if !transitionYes && !confirm(in, out, fmt.Sprintf("Slot %s has a candidate. Force %s?", slot.ID, action)) {
			fmt.Fprintln(out, "Transition cancelled.")
			return nil
		}
		req.Force = true
		result, err = app.Machine.Apply(ctx, slot, req)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "slot %s: %s -> %s (version %d)\n", result.Slot.ID, result.From, result.Slot.Status, result.Slot.Version)
	printReminders(out, result.Reminders)
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	app, closeDB, err := openApp()
	if err != nil {
		return err
	}
	defer closeDB()

	res, err := app.Scheduler.RecomputeSlot(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printReminders(cmd.OutOrStdout(), res)
	return nil
}

func printReminders(w io.Writer, res reminders.Result) {
	for _, j := range res.Scheduled {
		fmt.Fprintf(w, "  scheduled %-3s at %s\n", j.Kind, j.TriggerAtUTC.UTC().Format(time.RFC3339))
	}
	for _, j := range res.Kept {
		fmt.Fprintf(w, "  kept      %-3s at %s\n", j.Kind, j.TriggerAtUTC.UTC().Format(time.RFC3339))
	}
	for _, j := range res.Canceled {
		fmt.Fprintf(w, "  canceled  %-3s at %s\n", j.Kind, j.TriggerAtUTC.UTC().Format(time.RFC3339))
	}
	for _, j := range res.Settled {
		fmt.Fprintf(w, "  settled   %-3s (%s)\n", j.Kind, strings.ToLower(string(j.Status)))
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  skipped   %-3s: %v\n", s.Kind, s.Reason)
	}
}

// confirm asks a yes/no question and accepts only "yes".
func confirm(in *bufio.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s Type 'yes' to confirm: ", question)
	response, err := in.ReadString('\n')
	if err != nil && response == "" {
		return false
	}
	return strings.TrimSpace(strings.ToLower(response)) == "yes"
}
