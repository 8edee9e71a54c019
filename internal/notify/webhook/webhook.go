// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package webhook posts notifications as JSON to a configured URL.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/waybar-geofence/internal/http"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const name = "webhook"

var ErrURLRequired = errors.New("webhook url is required")

type Webhook struct {
	client  *http.Client
	url     string
	headers map[string]string
}

// New returns a webhook sink. headers are added to every request, e.g. for an Authorization token.
func New(client *http.Client, url string, headers map[string]string) (*Webhook, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if url == "" {
		return nil, ErrURLRequired
	}
	return &Webhook{client: client, url: url, headers: headers}, nil
}

func (w *Webhook) Name() string {
	return name
}

func (w *Webhook) Send(ctx context.Context, msg notify.Message) error {
	if _, err := w.client.PostJSON(ctx, w.url, notify.NewPayload(msg), w.headers); err != nil {
		return fmt.Errorf("failed to post notification: %w", err)
	}
	return nil
}
