package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
)

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Publisher receives the collections named by database notifications.
type Publisher interface {
	Publish(ctx context.Context, collections ...domain.Collection) error
}

// Listener turns NOTIFY events raised by the change triggers into publications,
// so writes from other processes reach this process's subscribers.
type Listener struct {
	dsn       string
	channel   string
	publisher Publisher
	log       *slog.Logger
}

func NewListener(dsn, channel string, publisher Publisher) *Listener {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &Listener{
		dsn:       dsn,
		channel:   channel,
		publisher: publisher,
		log:       logger.WithComponent("pg-listener"),
	}
}

// Run listens until ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Warn("Listener event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("Listening for changes", "channel", l.channel)

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			l.handle(ctx, n)
		case <-ticker.C:
			if err := listener.Ping(); err != nil {
				l.log.Warn("Listener ping failed", "error", err)
			}
		}
	}
}

// handle publishes the collection named in the payload. A nil notification follows a
// reconnect, after which anything may have changed.
func (l *Listener) handle(ctx context.Context, n *pq.Notification) {
	collections := domain.Collections
	if n != nil {
		c, err := domain.ParseCollection(n.Extra)
		if err != nil {
			l.log.Warn("Ignoring notification", "payload", n.Extra, "error", err)
			return
		}
		collections = []domain.Collection{c}
	}
	if err := l.publisher.Publish(ctx, collections...); err != nil && !errors.Is(err, context.Canceled) {
		l.log.Error("Failed to publish change", "collections", collections, "error", err)
	}
}
