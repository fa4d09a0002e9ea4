package tasks

import (
	"context"
	"errors"
	"fmt"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
)

// ListPackages fetches the active packages, cheapest first, and stores them as the catalog.
func (e *Engine) ListPackages(ctx context.Context) ([]models.Package, error) {
	var packages []models.Package
	q := services.From(models.TablePackages).Eq("active", true).Order("price", true)
	if err := e.store.Select(ctx, q, &packages); err != nil {
		e.logger.Error("error loading packages", "error", err)
		return nil, fmt.Errorf("%w: failed to load packages: %w", shared.ErrAPIRequest, err)
	}

	e.ws.Update(func(s *State) { s.Catalog = packages })
	e.logger.Debug("loaded packages", "count", len(packages))
	return packages, nil
}

// SelectPackage makes the package with id the selected one and immediately creates a session for it.
func (e *Engine) SelectPackage(ctx context.Context, id string) (*models.Session, error) {
	var pkg models.Package
	if err := e.store.SelectSingle(ctx, services.From(models.TablePackages).Eq("id", id), &pkg); err != nil {
		e.logger.Error("error selecting package", "package_id", id, "error", err)
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("package %s: %w", id, err)
		}
		return nil, fmt.Errorf("failed to select package %s: %w", id, err)
	}

	e.ws.Update(func(s *State) { s.Package = &pkg })
	e.persist(ctx)
	e.sendNotice(packageSelectedNotice(&pkg))

	return e.CreateSession(ctx)
}
