/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"strings"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friendsincode/interview_scheduler/internal/models"
)

var (
	contact = Contact{CandidateID: "c1", Name: "Sam", Email: "sam@example.com", ChatHandle: "@sam"}
	message = Message{
		JobID:      "j1",
		SlotID:     "s1",
		DedupKey:   "abc123",
		Kind:       models.ReminderT1,
		StartUTC:   time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC),
		LocalStart: "Mon 10 Mar 06:00 EDT",
		Timezone:   "America/New_York",
		Subject:    "Interview in 1 hour",
		Body:       "See you soon",
	}
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
		code string
	}{
		{"already classified", Permanent(CodeNoContact, nil), KindPermanent, CodeNoContact},
		{"wrapped classified", fmt.Errorf("gateway: %w", Transient(CodeRateLimited, nil)), KindTransient, CodeRateLimited},
		{"deadline", context.DeadlineExceeded, KindTransient, CodeTimeout},
		{"unknown", errors.New("boom"), KindTransient, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.code, got.Code)
		})
	}
	assert.Nil(t, Classify(nil))
}

func TestWebhookSignsAndSends(t *testing.T) {
	var gotSig, gotKey string
	var payload WebhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Interviewd-Signature")
		gotKey = r.Header.Get("Idempotency-Key")
		assert.Equal(t, SignPayload(body, "s3cret"), gotSig)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.Header().Set("X-Message-Id", "msg-42")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	receipt, err := NewWebhook(srv.URL, "s3cret", srv.Client()).Send(context.Background(), contact, message)
	require.NoError(t, err)
	assert.Equal(t, Receipt("msg-42"), receipt)
	assert.True(t, strings.HasPrefix(gotSig, "sha256="))
	assert.Equal(t, "abc123", gotKey)
	assert.Equal(t, "T1", payload.Kind)
	assert.Equal(t, "America/New_York", payload.Timezone)
	assert.Equal(t, "c1", payload.Recipient.CandidateID)
}

func TestWebhookStatusClassification(t *testing.T) {
	tests := []struct {
		status int
		kind   ErrorKind
		code   string
	}{
		{http.StatusBadRequest, KindPermanent, CodeRejected},
		{http.StatusRequestTimeout, KindTransient, CodeTimeout},
		{http.StatusTooManyRequests, KindTransient, CodeRateLimited},
		{http.StatusBadGateway, KindTransient, CodeUpstream},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := NewWebhook(srv.URL, "", srv.Client()).Send(context.Background(), contact, message)
			ce := Classify(err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}

func TestWebhookTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewWebhook(srv.URL, "", srv.Client()).Send(ctx, contact, message)
	ce := Classify(err)
	require.NotNil(t, ce)
	assert.Equal(t, KindTransient, ce.Kind)
	assert.Equal(t, CodeTimeout, ce.Code)
}

func TestWebhookWithoutContact(t *testing.T) {
	_, err := NewWebhook("http://unused.invalid", "", nil).Send(context.Background(), Contact{CandidateID: "c1"}, message)
	ce := Classify(err)
	assert.Equal(t, KindPermanent, ce.Kind)
	assert.Equal(t, CodeNoContact, ce.Code)
}

func TestEmail(t *testing.T) {
	cfg := EmailConfig{Host: "smtp.example.com", Port: 587, From: "noreply@example.com", FromName: "Interviews"}

	t.Run("sends", func(t *testing.T) {
		var sent string
		ch := NewEmail(cfg, func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
			assert.Equal(t, "smtp.example.com:587", addr)
			assert.Equal(t, []string{"sam@example.com"}, to)
			sent = string(msg)
			return nil
		})
		receipt, err := ch.Send(context.Background(), contact, message)
		require.NoError(t, err)
		assert.Contains(t, string(receipt), "abc123")
		assert.Contains(t, sent, "Subject: Interview in 1 hour\r\n")
		assert.Contains(t, sent, "From: Interviews <noreply@example.com>\r\n")
	})

	t.Run("no address", func(t *testing.T) {
		_, err := NewEmail(cfg, nil).Send(context.Background(), Contact{CandidateID: "c1"}, message)
		assert.Equal(t, CodeNoContact, Classify(err).Code)
		assert.Equal(t, KindPermanent, Classify(err).Kind)
	})

	t.Run("line break in address", func(t *testing.T) {
		called := false
		ch := NewEmail(cfg, func(string, smtp.Auth, string, []string, []byte) error {
			called = true
			return nil
		})
		bad := Contact{CandidateID: "c1", Email: "sam@example.com\r\nBcc: everyone@example.com"}
		_, err := ch.Send(context.Background(), bad, message)
		assert.Equal(t, CodeInvalidContact, Classify(err).Code)
		assert.Equal(t, KindPermanent, Classify(err).Kind)
		assert.False(t, called)
	})

	t.Run("line break in subject", func(t *testing.T) {
		var sent string
		ch := NewEmail(cfg, func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
			sent = string(msg)
			return nil
		})
		injected := message
		injected.Subject = "Interview\r\nBcc: everyone@example.com"
		_, err := ch.Send(context.Background(), contact, injected)
		require.NoError(t, err)
		assert.Contains(t, sent, "Subject: Interview Bcc: everyone@example.com\r\n")
		assert.NotContains(t, sent, "\r\nBcc:")
	})

	t.Run("smtp codes", func(t *testing.T) {
		for code, kind := range map[int]ErrorKind{550: KindPermanent, 451: KindTransient} {
			ch := NewEmail(cfg, func(string, smtp.Auth, string, []string, []byte) error {
				return &textproto.Error{Code: code, Msg: "nope"}
			})
			_, err := ch.Send(context.Background(), contact, message)
			assert.Equal(t, kind, Classify(err).Kind, "code %d", code)
		}
	})

	t.Run("deadline", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		ch := NewEmail(cfg, func(string, smtp.Auth, string, []string, []byte) error {
			<-block
			return nil
		})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := ch.Send(ctx, contact, message)
		assert.Equal(t, CodeTimeout, Classify(err).Code)
		assert.Equal(t, KindTransient, Classify(err).Kind)
	})
}

type mockPushSender struct {
	status int
	err    error
	got    *webpush.Subscription
}

func (m *mockPushSender) Send(_ context.Context, _ []byte, sub *webpush.Subscription, _ *webpush.Options) (*http.Response, error) {
	m.got = sub
	if m.err != nil {
		return nil, m.err
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("Location", "https://push.example.com/m/1")
	rec.WriteHeader(m.status)
	return rec.Result(), nil
}

func TestWebPush(t *testing.T) {
	withPush := contact
	withPush.Push = &PushSubscription{Endpoint: "https://push.example.com/sub", P256DH: "key", Auth: "auth"}

	tests := []struct {
		name    string
		to      Contact
		sender  *mockPushSender
		wantErr bool
		kind    ErrorKind
		code    string
	}{
		{name: "created", to: withPush, sender: &mockPushSender{status: http.StatusCreated}},
		{name: "gone", to: withPush, sender: &mockPushSender{status: http.StatusGone}, wantErr: true, kind: KindPermanent, code: CodeSubscriptionExpired},
		{name: "throttled", to: withPush, sender: &mockPushSender{status: http.StatusTooManyRequests}, wantErr: true, kind: KindTransient, code: CodeRateLimited},
		{name: "network", to: withPush, sender: &mockPushSender{err: errors.New("dial tcp: refused")}, wantErr: true, kind: KindTransient, code: CodeUnknown},
		{name: "no subscription", to: contact, sender: &mockPushSender{}, wantErr: true, kind: KindPermanent, code: CodeNoContact},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := NewWebPush(&webpush.Options{TTL: 60}, tt.sender).Send(context.Background(), tt.to, message)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, Receipt("https://push.example.com/m/1"), receipt)
				assert.Equal(t, "key", tt.sender.got.Keys.P256dh)
				return
			}
			ce := Classify(err)
			require.NotNil(t, ce)
			assert.Equal(t, tt.kind, ce.Kind)
			assert.Equal(t, tt.code, ce.Code)
		})
	}
}
