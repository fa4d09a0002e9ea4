// Change feed plumbing shared by the Redis and AMQP transports.

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/shared"
)

// DecodeChangeEvent parses a published change. A missing table falls back to the subscribed table.
func DecodeChangeEvent(table string, payload []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: change event: %v", shared.ErrInvalidArgument, err)
	}
	if ev.Table == "" {
		ev.Table = table
	}
	ev.Type = strings.ToUpper(ev.Type)
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("%w: unknown change type %q", shared.ErrInvalidArgument, ev.Type)
	}
	if ev.CommitTimestamp.IsZero() {
		ev.CommitTimestamp = time.Now().UTC()
	}
	return ev, nil
}

// EncodeChangeEvent is the inverse of [DecodeChangeEvent].
func EncodeChangeEvent(ev ChangeEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// subscription runs a delivery loop on its own goroutine until closed or its context ends.
type subscription struct {
	channel string
	cancel  context.CancelFunc
	done    chan struct{}
	release func() error

	once sync.Once
	err  error
}

// startSubscription launches loop with a context derived from ctx. release runs once on Close, after the loop
// has been cancelled, and must unblock it.
func startSubscription(ctx context.Context, channel string, loop func(ctx context.Context), release func() error) *subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		channel: channel,
		cancel:  cancel,
		done:    make(chan struct{}),
		release: release,
	}

	go func() {
		defer close(sub.done)
		loop(subCtx)
	}()

	// tie the subscription's lifetime to the owning context
	go func() {
		select {
		case <-subCtx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub
}

func (s *subscription) Channel() string { return s.channel }

// Close stops delivery and waits for the loop to exit. It is safe to call more than once.
func (s *subscription) Close() error {
	s.once.Do(func() {
		s.cancel()
		if s.release != nil {
			s.err = s.release()
		}
		<-s.done
	})
	return s.err
}

// dispatch decodes payload and hands it to h, logging and dropping malformed events.
func dispatch(logger *log.Logger, table string, payload []byte, h ChangeHandler) bool {
	ev, err := DecodeChangeEvent(table, payload)
	if err != nil {
		if logger != nil {
			logger.Warn("dropping malformed change event", "table", table, "error", err)
		}
		return false
	}
	h(ev)
	return true
}
