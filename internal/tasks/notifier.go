package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
)

const (
	PackagesChannel = "packages-changes"
	VouchersChannel = "vouchers-changes"
)

// CatalogListener receives the refreshed catalog after a package change.
type CatalogListener func([]models.Package)

// Notifier owns the catalog subscriptions. Close releases them; so does cancelling the context given to
// [Engine.StartNotifier].
type Notifier struct {
	ctx    context.Context
	cancel context.CancelFunc
	subs   []services.Subscription
	once   sync.Once
	err    error
}

// StartNotifier subscribes to package and voucher changes. Package events refresh the catalog and pass it to
// listener, which may be nil. Voucher events are only logged.
func (e *Engine) StartNotifier(ctx context.Context, listener CatalogListener) (*Notifier, error) {
	if e.feed == nil {
		return nil, fmt.Errorf("%w: change feed is disabled", shared.ErrServiceUnavailable)
	}

	nctx, cancel := context.WithCancel(ctx)
	n := &Notifier{ctx: nctx, cancel: cancel}
	logger := e.logger.With("component", "notifier")

	packages, err := e.feed.Subscribe(nctx, PackagesChannel, models.TablePackages, func(ev services.ChangeEvent) {
		logger.Info("package change received", "type", ev.Type)
		catalog, err := e.ListPackages(nctx)
		if err != nil {
			logger.Error("failed to refresh packages", "error", err)
			return
		}
		if listener != nil {
			listener(catalog)
		}
		e.sendNotice(catalogChangedNotice(catalog))
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", PackagesChannel, err)
	}
	n.subs = append(n.subs, packages)

	vouchers, err := e.feed.Subscribe(nctx, VouchersChannel, models.TableVouchers, func(ev services.ChangeEvent) {
		logger.Info("voucher change received", "type", ev.Type)
		e.sendNotice(voucherChangedNotice(ev.Type))
	})
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("subscribe %s: %w", VouchersChannel, err)
	}
	n.subs = append(n.subs, vouchers)

	logger.Info("listening for catalog changes", "channels", []string{PackagesChannel, VouchersChannel})
	return n, nil
}

// Done is closed once the notifier has been released.
func (n *Notifier) Done() <-chan struct{} { return n.ctx.Done() }

// Close releases both subscriptions. It is safe to call more than once.
func (n *Notifier) Close() error {
	n.once.Do(func() {
		var errs []error
		for _, s := range n.subs {
			if err := s.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", s.Channel(), err))
			}
		}
		n.cancel()
		n.err = errors.Join(errs...)
	})
	return n.err
}
