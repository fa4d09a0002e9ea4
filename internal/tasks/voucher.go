package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
)

// ApplyVoucher looks up an active voucher by code. A failed lookup clears any voucher applied before.
func (e *Engine) ApplyVoucher(ctx context.Context, code string) (*models.Voucher, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		e.clearVoucher(ctx)
		return nil, fmt.Errorf("%w: please enter a voucher code", shared.ErrInvalidVoucher)
	}

	var voucher models.Voucher
	q := services.From(models.TableVouchers).Eq("code", code).Eq("active", true)
	if err := e.store.SelectSingle(ctx, q, &voucher); err != nil {
		e.logger.Error("error applying voucher", "code", code, "error", err)
		e.clearVoucher(ctx)
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidVoucher, err)
	}

	e.ws.Update(func(s *State) { s.Voucher = &voucher })
	e.persist(ctx)
	e.sendNotice(voucherAppliedNotice(&voucher))
	return &voucher, nil
}

func (e *Engine) clearVoucher(ctx context.Context) {
	if e.ws.Snapshot().Voucher == nil {
		return
	}
	e.ws.Update(func(s *State) { s.Voucher = nil })
	e.persist(ctx)
}

// ComputeFinalPrice prices the selected package with the applied voucher.
func (e *Engine) ComputeFinalPrice() float64 {
	st := e.ws.Snapshot()
	return FinalPrice(st.Package, st.Voucher)
}

// FinalPrice is price × (1 − discount/100), never below zero. It is 0 without a package and the plain price
// without a voucher.
func FinalPrice(pkg *models.Package, voucher *models.Voucher) float64 {
	if pkg == nil {
		return 0
	}
	if voucher == nil {
		return pkg.Price
	}
	return max(pkg.Price*(1-voucher.Discount/100), 0)
}
