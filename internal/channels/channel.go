/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package channels delivers rendered reminders to candidates. Every failure
// is reported as an *Error so the delivery worker can decide between retrying
// and giving up.
package channels

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/friendsincode/interview_scheduler/internal/models"
)

// Contact is where a candidate can be reached.
type Contact struct {
	CandidateID string
	Name        string
	Email       string
	Phone       string
	ChatHandle  string
	Push        *PushSubscription
}

// PushSubscription is a browser push endpoint with its encryption keys.
type PushSubscription struct {
	Endpoint string
	P256DH   string
	Auth     string
}

// Message is a reminder rendered for one candidate.
type Message struct {
	JobID    string
	SlotID   string
	DedupKey string
	Kind     models.ReminderKind
	StartUTC time.Time
	// LocalStart is StartUTC formatted in Timezone.
	LocalStart string
	Timezone   string
	Subject    string
	Body       string
}

// Receipt is the provider's acknowledgement, if it returned one.
type Receipt string

// Channel sends one message. Implementations must honour ctx cancellation.
type Channel interface {
	Name() string
	Send(ctx context.Context, to Contact, msg Message) (Receipt, error)
}

// ErrorKind separates failures worth retrying from ones that are not.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Common error codes.
const (
	CodeNoContact           = "no_contact"
	CodeInvalidContact      = "invalid_contact"
	CodeTimeout             = "timeout"
	CodeNetwork             = "network"
	CodeRejected            = "rejected"
	CodeRateLimited         = "rate_limited"
	CodeUpstream            = "upstream_error"
	CodeSubscriptionExpired = "subscription_expired"
	CodeUnknown             = "unknown"
)

// Error is a classified delivery failure.
type Error struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s delivery failure (%s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s delivery failure (%s): %v", e.Kind, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(code string, err error) error {
	return &Error{Kind: KindTransient, Code: code, Err: err}
}

// Permanent wraps err as final.
func Permanent(code string, err error) error {
	return &Error{Kind: KindPermanent, Code: code, Err: err}
}

// Classify turns any send error into an *Error. Deadlines and network
// failures are transient, and so is anything unrecognised.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTransient, Code: CodeTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTransient, Code: CodeTimeout, Err: err}
		}
		return &Error{Kind: KindTransient, Code: CodeNetwork, Err: err}
	}
	return &Error{Kind: KindTransient, Code: CodeUnknown, Err: err}
}

// classifyStatus maps an HTTP status from a provider.
func classifyStatus(status int) (ErrorKind, string, bool) {
	switch {
	case status >= 200 && status < 300:
		return 0, "", true
	case status == 408:
		return KindTransient, CodeTimeout, false
	case status == 429:
		return KindTransient, CodeRateLimited, false
	case status >= 500:
		return KindTransient, CodeUpstream, false
	default:
		return KindPermanent, CodeRejected, false
	}
}
