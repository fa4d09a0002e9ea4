// Change feed over Postgres LISTEN/NOTIFY.
//
// The remote schema installs triggers on packages and vouchers that pg_notify a [ChangeEvent] JSON payload on
// [PostgresChannel], so row changes reach subscribers without anything publishing by hand.

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresChannel is the NOTIFY channel carrying changes for table.
func PostgresChannel(table string) string {
	return "realtime_" + table
}

// Listener is a dedicated connection that has issued LISTEN. [*pgx.Conn] satisfies it.
type Listener interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// ListenFunc opens a [Listener] on channel.
type ListenFunc func(ctx context.Context, channel string) (Listener, error)

// NotifyFunc sends payload on channel.
type NotifyFunc func(ctx context.Context, channel, payload string) error

// PostgresFeed implements [ChangeFeed] with one LISTEN connection per subscription.
type PostgresFeed struct {
	listen ListenFunc
	notify NotifyFunc
	pool   *pgxpool.Pool
	logger *log.Logger
}

// NewPostgresFeed connects to databaseURL. The pool is used for publishing; each subscription opens its own
// connection because LISTEN is bound to a session.
func NewPostgresFeed(ctx context.Context, databaseURL string, logger *log.Logger) (*PostgresFeed, error) {
	cfg, err := pgx.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres url: %v", shared.ErrInvalidConfig, err)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: %v", shared.ErrInvalidConfig, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres: %v", shared.ErrServiceUnavailable, err)
	}

	listen := func(ctx context.Context, channel string) (Listener, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
		if err != nil {
			return nil, err
		}
		if _, err := conn.Exec(ctx, "LISTEN "+ident(channel)); err != nil {
			conn.Close(context.Background())
			return nil, err
		}
		return conn, nil
	}
	notify := func(ctx context.Context, channel, payload string) error {
		_, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload)
		return err
	}

	feed := NewPostgresFeedWith(listen, notify, logger)
	feed.pool = pool
	return feed, nil
}

// NewPostgresFeedWith builds a feed from explicit listen and notify functions. notify may be nil, in which case
// [PostgresFeed.Publish] fails.
func NewPostgresFeedWith(listen ListenFunc, notify NotifyFunc, logger *log.Logger) *PostgresFeed {
	return &PostgresFeed{listen: listen, notify: notify, logger: logger}
}

// Subscribe listens on [PostgresChannel] for table and calls h for every change.
func (f *PostgresFeed) Subscribe(ctx context.Context, channel, table string, h ChangeHandler) (Subscription, error) {
	l, err := f.listen(ctx, PostgresChannel(table))
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe %s: %v", shared.ErrServiceUnavailable, channel, err)
	}

	// the loop owns the connection; cancelling ctx unblocks WaitForNotification
	loop := func(ctx context.Context) {
		defer l.Close(context.Background())
		for {
			n, err := l.WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, context.Canceled) && f.logger != nil {
					f.logger.Error("listen connection lost", "channel", channel, "error", err)
				}
				return
			}
			dispatch(f.logger, table, []byte(n.Payload), h)
		}
	}

	return startSubscription(ctx, channel, loop, nil), nil
}

// Publish sends a change with pg_notify, the same way the table triggers do.
func (f *PostgresFeed) Publish(ctx context.Context, ev ChangeEvent) error {
	if f.notify == nil {
		return fmt.Errorf("%w: publishing is not configured", shared.ErrServiceUnavailable)
	}
	payload, err := EncodeChangeEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	if err := f.notify(ctx, PostgresChannel(ev.Table), string(payload)); err != nil {
		return fmt.Errorf("%w: publish: %v", shared.ErrServiceUnavailable, err)
	}
	return nil
}

// Close releases the publishing pool. Open subscriptions close their own connections.
func (f *PostgresFeed) Close() error {
	if f.pool != nil {
		f.pool.Close()
	}
	return nil
}
