package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Watch prints catalog and voucher changes until interrupted.
func (r *Runner) Watch(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := r.connect(ctx, true)
	if err != nil {
		return err
	}

	notifier, err := engine.StartNotifier(ctx, nil)
	if err != nil {
		if errors.Is(err, shared.ErrServiceUnavailable) {
			r.logger.Warn("live updates are off; set [feed] driver to postgres, redis or amqp", "driver", r.config.Feed.Driver)
		}
		return err
	}
	defer notifier.Close()

	r.writePlain("Watching for catalog changes (ctrl+c to stop)\n")
	return r.watchNotices(notifier.Done(), cmd.Bool("catalog"))
}

// watchNotices prints notices until done is closed. With showCatalog, catalog refreshes print the new list.
func (r *Runner) watchNotices(done <-chan struct{}, showCatalog bool) error {
	for {
		select {
		case <-done:
			return nil
		case n := <-r.notices:
			r.writePlain("• %s\n", n.Message)
			if !showCatalog || n.Kind != tasks.CatalogChanged {
				continue
			}
			if packages, ok := n.Data.([]models.Package); ok {
				data, err := formatter.PackagesToText(packages)
				if err != nil {
					return err
				}
				if err := r.writeBytes(data); err != nil {
					return err
				}
			}
		}
	}
}

// publisher is implemented by feeds that can also send events.
type publisher interface {
	Publish(ctx context.Context, ev services.ChangeEvent) error
}

// Publish sends a change event so watching clients refresh, e.g. after editing packages by hand.
func (r *Runner) Publish(ctx context.Context, cmd *cli.Command) error {
	table := cmd.StringArg("table")
	switch table {
	case models.TablePackages, models.TableVouchers:
	case "":
		return fmt.Errorf("%w: table", shared.ErrMissingArgument)
	default:
		return fmt.Errorf("%w: only %s and %s are watched", shared.ErrInvalidArgument, models.TablePackages, models.TableVouchers)
	}

	ev := services.ChangeEvent{
		Table:           table,
		Type:            strings.ToUpper(cmd.String("type")),
		CommitTimestamp: time.Now().UTC(),
	}
	switch ev.Type {
	case services.EventInsert, services.EventUpdate, services.EventDelete:
	default:
		return fmt.Errorf("%w: unknown change type %q", shared.ErrInvalidArgument, ev.Type)
	}
	if record := cmd.String("record"); record != "" {
		if !json.Valid([]byte(record)) {
			return fmt.Errorf("%w: record is not valid JSON", shared.ErrInvalidArgument)
		}
		ev.Record = json.RawMessage(record)
	}

	feed := r.feed
	if feed == nil {
		var err error
		if feed, err = r.changeFeed(ctx); err != nil {
			return err
		}
	}
	p, ok := feed.(publisher)
	if !ok {
		return fmt.Errorf("%w: change feed is disabled", shared.ErrServiceUnavailable)
	}

	if err := p.Publish(ctx, ev); err != nil {
		return err
	}
	r.logger.Info("published change", "table", ev.Table, "type", ev.Type)
	return r.writePlain("✓ Published %s on %s\n", ev.Type, ev.Table)
}
