// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package notify

import (
	"context"
)

// Endpoint is a Handle that is identified by a fixed string.
type Endpoint string

func (e Endpoint) Endpoint() string {
	return string(e)
}

// StaticRegistry always reports the same handle, or none if its endpoint is empty.
type StaticRegistry struct {
	endpoint Endpoint
}

func NewStaticRegistry(endpoint string) *StaticRegistry {
	return &StaticRegistry{endpoint: Endpoint(endpoint)}
}

func (r *StaticRegistry) Current() (Handle, bool) {
	if r.endpoint == "" {
		return nil, false
	}
	return r.endpoint, true
}

// Request returns the handle immediately. Without an endpoint it fails with ErrNoSubscription,
// since a static registry never acquires one later.
func (r *StaticRegistry) Request(context.Context) (Handle, error) {
	if handle, ok := r.Current(); ok {
		return handle, nil
	}
	return nil, ErrNoSubscription
}
