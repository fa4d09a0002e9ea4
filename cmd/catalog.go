package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
)

// PackagesList prints the active packages, cheapest first.
func (r *Runner) PackagesList(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	packages, err := engine.ListPackages(ctx)
	if err != nil {
		return err
	}
	if format == formatter.FormatText && len(packages) == 0 {
		return r.writePlain("No packages available\n")
	}

	data, err := formatter.RenderPackages(format, packages)
	if err != nil {
		return err
	}
	return r.writeBytes(data)
}

// PackagesSelect picks a package and opens a session for it.
func (r *Runner) PackagesSelect(ctx context.Context, cmd *cli.Command) error {
	id := cmd.StringArg("id")
	if id == "" {
		return fmt.Errorf("%w: package id", shared.ErrMissingArgument)
	}

	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	if code := cmd.String("voucher"); code != "" {
		if _, err := engine.ApplyVoucher(ctx, code); err != nil {
			return err
		}
	}

	session, err := engine.SelectPackage(ctx, id)
	r.report()
	if err != nil {
		return err
	}

	r.writePlain("Session: %s\n", session.ID)
	r.writePlain("Paid: $%s\n", formatter.Price(session.FinalPrice))
	return nil
}

// VoucherApply validates a code and keeps it for the next session.
func (r *Runner) VoucherApply(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	if _, err := engine.ApplyVoucher(ctx, cmd.StringArg("code")); err != nil {
		return err
	}
	r.report()

	if st := engine.State(); st.Package != nil {
		r.writePlain("%s now costs $%s\n", st.Package.Name, formatter.Price(engine.ComputeFinalPrice()))
	}
	return nil
}

// VoucherPrice prints the price of the selected (or given) package after the current voucher.
func (r *Runner) VoucherPrice(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	st := engine.State()
	pkg := st.Package
	if id := cmd.String("package"); id != "" {
		pkg = nil
		for i := range st.Catalog {
			if st.Catalog[i].ID == id {
				pkg = &st.Catalog[i]
				break
			}
		}
		if pkg == nil {
			return fmt.Errorf("%w: package %s", shared.ErrNotFound, id)
		}
	}
	if pkg == nil {
		return fmt.Errorf("%w: no package selected", shared.ErrPrecondition)
	}

	final := tasks.FinalPrice(pkg, st.Voucher)
	r.writePlain("%s: $%s\n", pkg.Name, formatter.Price(pkg.Price))
	if st.Voucher != nil {
		r.writePlain("Voucher %s: -%g%%\n", st.Voucher.Code, st.Voucher.Discount)
	}
	return r.writePlain("Final price: $%s\n", formatter.Price(final))
}
