/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MergeFile overlays non-zero values from a YAML policy file.
func (p *Policy) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}

	var overlay Policy
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	if overlay.GraceWindow != 0 {
		p.GraceWindow = overlay.GraceWindow
	}
	if overlay.PollInterval != 0 {
		p.PollInterval = overlay.PollInterval
	}
	if overlay.BatchSize != 0 {
		p.BatchSize = overlay.BatchSize
	}
	if overlay.Workers != 0 {
		p.Workers = overlay.Workers
	}
	if overlay.DeliveryTimeout != 0 {
		p.DeliveryTimeout = overlay.DeliveryTimeout
	}
	if overlay.MaxAttempts != 0 {
		p.MaxAttempts = overlay.MaxAttempts
	}
	if overlay.BackoffBase != 0 {
		p.BackoffBase = overlay.BackoffBase
	}
	if overlay.BackoffMax != 0 {
		p.BackoffMax = overlay.BackoffMax
	}
	if overlay.ClaimLease != 0 {
		p.ClaimLease = overlay.ClaimLease
	}
	if overlay.RatePerSecond != 0 {
		p.RatePerSecond = overlay.RatePerSecond
	}
	if overlay.RateBurst != 0 {
		p.RateBurst = overlay.RateBurst
	}
	return nil
}
