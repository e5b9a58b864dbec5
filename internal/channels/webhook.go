/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/friendsincode/interview_scheduler/internal/telemetry"
	"github.com/friendsincode/interview_scheduler/internal/version"
)

// WebhookPayload is the JSON body posted to the messaging gateway.
type WebhookPayload struct {
	Event      string    `json:"event"`
	JobID      string    `json:"job_id"`
	SlotID     string    `json:"slot_id"`
	DedupKey   string    `json:"dedup_key"`
	Kind       string    `json:"kind"`
	StartUTC   time.Time `json:"start_utc"`
	LocalStart string    `json:"local_start"`
	Timezone   string    `json:"timezone"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	Recipient  Recipient `json:"recipient"`
}

// Recipient identifies the candidate to the gateway.
type Recipient struct {
	CandidateID string `json:"candidate_id"`
	Name        string `json:"name,omitempty"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	ChatHandle  string `json:"chat_handle,omitempty"`
}

// Webhook posts reminders to an HTTP gateway that fans out to chat or SMS.
type Webhook struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhook creates a webhook channel. A nil client gets a traced default.
func NewWebhook(url, secret string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Transport: telemetry.HTTPTransport(nil)}
	}
	return &Webhook{url: url, secret: secret, client: client}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, to Contact, msg Message) (Receipt, error) {
	if to.ChatHandle == "" && to.Phone == "" && to.Email == "" {
		return "", Permanent(CodeNoContact, errors.Newf("candidate %s has no contact handle", to.CandidateID))
	}

	body, err := json.Marshal(WebhookPayload{
		Event:      "reminder." + string(msg.Kind),
		JobID:      msg.JobID,
		SlotID:     msg.SlotID,
		DedupKey:   msg.DedupKey,
		Kind:       string(msg.Kind),
		StartUTC:   msg.StartUTC.UTC(),
		LocalStart: msg.LocalStart,
		Timezone:   msg.Timezone,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Recipient: Recipient{
			CandidateID: to.CandidateID,
			Name:        to.Name,
			Email:       to.Email,
			Phone:       to.Phone,
			ChatHandle:  to.ChatHandle,
		},
	})
	if err != nil {
		return "", Permanent(CodeRejected, errors.Wrap(err, "marshal webhook payload"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return "", Permanent(CodeRejected, errors.Wrap(err, "build webhook request"))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "interviewd-webhook/"+version.Version)
	req.Header.Set("X-Interviewd-Event", "reminder."+string(msg.Kind))
	req.Header.Set("X-Interviewd-Timestamp", fmt.Sprintf("%d", time.Now().Unix()))
	// Receivers dedupe on this; it is stable across retries.
	req.Header.Set("Idempotency-Key", msg.DedupKey)
	if w.secret != "" {
		req.Header.Set("X-Interviewd-Signature", SignPayload(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", Classify(err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	kind, code, ok := classifyStatus(resp.StatusCode)
	if !ok {
		return "", &Error{Kind: kind, Code: code, Err: errors.Newf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))}
	}

	if id := resp.Header.Get("X-Message-Id"); id != "" {
		return Receipt(id), nil
	}
	return Receipt(fmt.Sprintf("http-%d", resp.StatusCode)), nil
}

// SignPayload returns the HMAC-SHA256 signature header value for body.
func SignPayload(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
