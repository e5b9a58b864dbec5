/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/cockroachdb/errors"
)

// PushSender abstracts the push service call.
type PushSender interface {
	Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

// WebPushSender sends through webpush-go.
type WebPushSender struct{}

func (WebPushSender) Send(ctx context.Context, payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotificationWithContext(ctx, payload, sub, options)
}

// WebPush notifies a candidate's browser.
type WebPush struct {
	options *webpush.Options
	sender  PushSender
}

// NewWebPush creates a push channel. A nil sender uses WebPushSender.
func NewWebPush(options *webpush.Options, sender PushSender) *WebPush {
	if sender == nil {
		sender = WebPushSender{}
	}
	return &WebPush{options: options, sender: sender}
}

func (w *WebPush) Name() string { return "webpush" }

type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
	URL   string `json:"url,omitempty"`
}

func (w *WebPush) Send(ctx context.Context, to Contact, msg Message) (Receipt, error) {
	if to.Push == nil || to.Push.Endpoint == "" {
		return "", Permanent(CodeNoContact, errors.Newf("candidate %s has no push subscription", to.CandidateID))
	}

	payload, err := json.Marshal(pushPayload{
		Title: msg.Subject,
		Body:  msg.Body,
		// Browsers collapse notifications sharing a tag.
		Tag: msg.DedupKey,
	})
	if err != nil {
		return "", Permanent(CodeRejected, errors.Wrap(err, "marshal push payload"))
	}

	sub := &webpush.Subscription{
		Endpoint: to.Push.Endpoint,
		Keys: webpush.Keys{
			P256dh: to.Push.P256DH,
			Auth:   to.Push.Auth,
		},
	}

	resp, err := w.sender.Send(ctx, payload, sub, w.options)
	if err != nil {
		return "", Classify(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return "", Permanent(CodeSubscriptionExpired, errors.Newf("push endpoint returned %d", resp.StatusCode))
	}
	kind, code, ok := classifyStatus(resp.StatusCode)
	if !ok {
		return "", &Error{Kind: kind, Code: code, Err: errors.Newf("push endpoint returned %d", resp.StatusCode)}
	}
	return Receipt(resp.Header.Get("Location")), nil
}
