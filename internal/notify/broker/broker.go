// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package broker publishes notifications to an AMQP exchange. The subscription handle is present
// while the broker connection is open.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/wneessen/waybar-geofence/internal/job"
	"github.com/wneessen/waybar-geofence/internal/logger"
	"github.com/wneessen/waybar-geofence/internal/notify"
)

const (
	name = "amqp"

	DefaultExchange   = "geofence.events"
	DefaultRoutingKey = "geofence.approach"
	exchangeKind      = "topic"

	defaultReconnectDelay = time.Second * 5
	appID                 = "waybar-geofence"
)

var (
	ErrURLRequired  = errors.New("amqp url is required")
	ErrNotConnected = errors.New("not connected to the amqp broker")
)

type Config struct {
	URL            string
	Exchange       string
	RoutingKey     string
	ReconnectDelay time.Duration
}

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// session is an open broker connection with a declared exchange.
type session struct {
	publisher publisher
	closed    <-chan *amqp.Error
	close     func() error
}

// Broker is both the notification sink and the subscription registry for an AMQP exchange.
type Broker struct {
	config   Config
	endpoint string
	log      *logger.Logger
	dialFn   func(Config) (*session, error)

	mu      sync.RWMutex
	session *session
	changed chan struct{}
}

// New returns a Broker. It does not connect until Run is called.
func New(config Config, log *logger.Logger) (*Broker, error) {
	if config.URL == "" {
		return nil, ErrURLRequired
	}
	parsed, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid amqp url: %w", err)
	}
	if config.Exchange == "" {
		config.Exchange = DefaultExchange
	}
	if config.RoutingKey == "" {
		config.RoutingKey = DefaultRoutingKey
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaultReconnectDelay
	}
	return &Broker{
		config:   config,
		endpoint: parsed.Redacted(),
		log:      log,
		dialFn:   dial,
		changed:  make(chan struct{}),
	}, nil
}

func (b *Broker) Name() string {
	return name
}

// Run keeps a broker connection open until ctx is done. A lost connection is re-established
// after the reconnect delay.
func (b *Broker) Run(ctx context.Context) {
	for {
		sess, err := b.dialFn(b.config)
		if err != nil {
			b.log.Warn("failed to connect to amqp broker", slog.String("endpoint", b.endpoint),
				logger.Err(err))
			if !job.Wait(ctx, b.config.ReconnectDelay) {
				return
			}
			continue
		}
		b.setSession(sess)
		b.log.Debug("connected to amqp broker", slog.String("endpoint", b.endpoint))

		select {
		case <-ctx.Done():
			b.setSession(nil)
			if err = sess.close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
				b.log.Error("failed to close amqp connection", logger.Err(err))
			}
			return
		case amqpErr := <-sess.closed:
			b.setSession(nil)
			if amqpErr != nil {
				b.log.Warn("amqp connection lost", slog.String("endpoint", b.endpoint), logger.Err(amqpErr))
			}
		}
		if !job.Wait(ctx, b.config.ReconnectDelay) {
			return
		}
	}
}

// Send publishes msg as JSON to the configured exchange.
func (b *Broker) Send(ctx context.Context, msg notify.Message) error {
	b.mu.RLock()
	sess := b.session
	b.mu.RUnlock()
	if sess == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(notify.NewPayload(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	err = sess.publisher.PublishWithContext(ctx, b.config.Exchange, b.config.RoutingKey, false, false,
		amqp.Publishing{
			ContentType: "application/json",
			AppId:       appID,
			Timestamp:   time.Now(),
			Body:        body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Current returns a handle while the broker connection is open.
func (b *Broker) Current() (notify.Handle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil, false
	}
	return notify.Endpoint(b.endpoint), true
}

// Request waits until the broker connection is open or ctx is done.
func (b *Broker) Request(ctx context.Context) (notify.Handle, error) {
	for {
		b.mu.RLock()
		changed := b.changed
		b.mu.RUnlock()

		if handle, ok := b.Current(); ok {
			return handle, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", notify.ErrNoSubscription, ctx.Err())
		case <-changed:
		}
	}
}

func (b *Broker) setSession(sess *session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.session = sess
	close(b.changed)
	b.changed = make(chan struct{})
}

func dial(config Config) (*session, error) {
	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp connect: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err = ch.ExchangeDeclare(config.Exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &session{
		publisher: ch,
		closed:    conn.NotifyClose(make(chan *amqp.Error, 1)),
		close:     conn.Close,
	}, nil
}
