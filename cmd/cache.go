package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/repositories"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/urfave/cli/v3"
)

// openCache opens the local state cache without contacting the backend.
func (r *Runner) openCache(ctx context.Context) (*repositories.StateCache, func() error, error) {
	db, err := shared.OpenLocalDatabase(ctx, r.config.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open local state: %w", err)
	}
	return repositories.NewStateCache(db), db.Close, nil
}

// CacheShow prints what the local cache will restore on the next run.
func (r *Runner) CacheShow(ctx context.Context, cmd *cli.Command) error {
	cache, closeFn, err := r.openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	auth, err := cache.LoadAuth(ctx)
	if err != nil {
		return err
	}
	snap, err := cache.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		out := map[string]any{"snapshot": snap}
		if auth != nil {
			out["auth"] = map[string]any{"user_id": auth.UserID, "email": auth.Email, "expires": auth.Token.Expiry}
		}
		return r.writeJSON(out, true)
	}

	r.writePlainHeader("Local cache: " + r.config.Database.Path)
	if auth == nil {
		r.writePlain("Auth: none\n")
	} else {
		r.writePlain("Auth: %s (token expires %s)\n", auth.Email, auth.Token.Expiry.Format("2006-01-02 15:04"))
	}
	if snap.Empty() {
		return r.writePlain("Workspace: empty\n")
	}
	if snap.Package != nil {
		r.writePlain("Package: %s\n", snap.Package.Name)
	}
	if snap.Voucher != nil {
		r.writePlain("Voucher: %s\n", snap.Voucher.Code)
	}
	if snap.Session != nil {
		r.writePlain("Session: %s\n", snap.Session.ID)
	}
	answered := 0
	for _, q := range snap.Questions {
		if q.Answered() {
			answered++
		}
	}
	return r.writePlain("Questions: %d (%d answered, cursor %d)\n", len(snap.Questions), answered, snap.Cursor)
}

// CacheClear forgets the stored token and workspace. The backend session is left alone.
func (r *Runner) CacheClear(ctx context.Context, cmd *cli.Command) error {
	cache, closeFn, err := r.openCache(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := cache.Clear(ctx); err != nil {
		return err
	}
	r.logger.Info("local cache cleared", "path", r.config.Database.Path)
	return r.writePlain("✓ Local cache cleared\n")
}
