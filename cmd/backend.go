package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/repositories"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
)

// backendAPI returns the HTTP client for the configured backend, creating it on first use.
func (r *Runner) backendAPI() *services.APIService {
	if r.api == nil {
		r.api = services.NewAPIService(services.APIOptions{
			BaseURL:           r.config.Backend.URL,
			AnonKey:           r.config.Backend.AnonKey,
			UserAgent:         r.config.Backend.UserAgent,
			Timeout:           r.config.Backend.Timeout(),
			RequestsPerSecond: r.config.Backend.RequestsPerSecond,
		})
	}
	return r.api
}

func (r *Runner) tableStore(ctx context.Context) (services.TableStore, error) {
	switch r.config.Store.Driver {
	case "postgres":
		store, err := services.NewPostgresStore(ctx, r.config.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		r.closers = append(r.closers, func() error { store.Close(); return nil })
		return store, nil
	default:
		return services.NewRESTStore(r.backendAPI()), nil
	}
}

func (r *Runner) objectStore(ctx context.Context) (services.ObjectStore, error) {
	switch r.config.Storage.Driver {
	case "s3":
		s3c := r.config.Storage.S3
		return services.NewS3Store(ctx, services.S3Options{
			Endpoint:        s3c.Endpoint,
			Region:          s3c.Region,
			AccessKeyID:     s3c.AccessKeyID,
			SecretAccessKey: s3c.SecretAccessKey,
			PublicURL:       s3c.PublicURL,
			UsePathStyle:    s3c.UsePathStyle,
		})
	default:
		return services.NewBucketStore(r.backendAPI()), nil
	}
}

// changeFeed connects the configured feed. A nil feed with a nil error means live updates are off.
func (r *Runner) changeFeed(ctx context.Context) (services.ChangeFeed, error) {
	var (
		feed services.ChangeFeed
		err  error
	)
	switch r.config.Feed.Driver {
	case "postgres":
		feed, err = services.NewPostgresFeed(ctx, r.config.Feed.PostgresURL(r.config.Store), shared.WithLogger(r.logger, "feed", "postgres"))
	case "redis":
		feed, err = services.NewRedisFeed(ctx, r.config.Feed.RedisURL, shared.WithLogger(r.logger, "feed", "redis"))
	case "amqp":
		feed, err = services.NewAMQPFeed(r.config.Feed.AMQPURL, r.config.Feed.Exchange, shared.WithLogger(r.logger, "feed", "amqp"))
	default:
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	r.closers = append(r.closers, feed.Close)
	return feed, nil
}

// connect builds the engine from config, restores the cached session and returns it. Later calls return the
// same engine. withFeed also connects the change feed; it has no effect once the engine exists.
func (r *Runner) connect(ctx context.Context, withFeed bool) (*tasks.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}

	if err := r.config.Validate(); err != nil {
		return nil, err
	}

	store, err := r.tableStore(ctx)
	if err != nil {
		return nil, err
	}
	objects, err := r.objectStore(ctx)
	if err != nil {
		return nil, err
	}
	if withFeed {
		if r.feed, err = r.changeFeed(ctx); err != nil {
			return nil, err
		}
	}

	db, err := shared.OpenLocalDatabase(ctx, r.config.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open local state: %w", err)
	}
	r.closers = append(r.closers, db.Close)

	opts := tasks.Options{
		Identity:      services.NewAuthService(r.backendAPI()),
		Store:         store,
		Objects:       objects,
		Persister:     repositories.NewStateCache(db),
		Logger:        r.logger,
		Notices:       r.notices,
		UserAgent:     r.config.Backend.UserAgent,
		Bucket:        r.config.Storage.Bucket,
		RemoveOrphans: r.config.Storage.RemoveOrphans,
		Feed:          r.feed,
	}
	r.engine = tasks.NewEngine(opts)

	if _, err := r.engine.RestoreSession(ctx); err != nil {
		r.logger.Warn("could not restore previous session", "error", err)
	}
	// Restoring emits the same notices as a login; they are not news to the user.
	for len(r.notices) > 0 {
		<-r.notices
	}
	return r.engine, nil
}
