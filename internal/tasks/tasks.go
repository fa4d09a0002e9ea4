package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
)

const defaultBucket = "recordings"

// Persister stores the active context between processes. repositories.StateCache implements it.
type Persister interface {
	SaveAuth(ctx context.Context, s models.AuthSession) error
	// LoadAuth returns nil without error when nothing is stored.
	LoadAuth(ctx context.Context) (*models.AuthSession, error)
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
	SaveQuestion(ctx context.Context, q models.Question) error
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	Clear(ctx context.Context) error
}

// Options carries the engine's collaborators. Identity, Store and Objects are required by the workflows that
// use them; Feed, Persister and Notices are optional.
type Options struct {
	Identity  services.IdentityProvider
	Store     services.TableStore
	Objects   services.ObjectStore
	Feed      services.ChangeFeed
	Persister Persister
	Logger    *log.Logger
	Notices   chan<- Notice

	// UserAgent identifies the client; it decides the telemetry device type.
	UserAgent string
	// Bucket holds uploaded recordings.
	Bucket string
	// RemoveOrphans deletes an uploaded recording when its response row cannot be written.
	RemoveOrphans bool
	// Clock is used for timestamps and recording names.
	Clock func() time.Time
}

// Engine runs the practice workflows against one [Workspace].
type Engine struct {
	identity      services.IdentityProvider
	store         services.TableStore
	objects       services.ObjectStore
	feed          services.ChangeFeed
	persister     Persister
	logger        *log.Logger
	notices       chan<- Notice
	userAgent     string
	bucket        string
	removeOrphans bool
	clock         func() time.Time

	ws *Workspace
}

// NewEngine creates an Engine with an empty workspace.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Bucket == "" {
		opts.Bucket = defaultBucket
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Engine{
		identity:      opts.Identity,
		store:         opts.Store,
		objects:       opts.Objects,
		feed:          opts.Feed,
		persister:     opts.Persister,
		logger:        opts.Logger,
		notices:       opts.Notices,
		userAgent:     opts.UserAgent,
		bucket:        opts.Bucket,
		removeOrphans: opts.RemoveOrphans,
		clock:         opts.Clock,
		ws:            NewWorkspace(),
	}
}

// Workspace exposes the engine's active context.
func (e *Engine) Workspace() *Workspace { return e.ws }

// State returns a copy of the active context.
func (e *Engine) State() State { return e.ws.Snapshot() }

// sendNotice sends a notice through the channel without blocking.
func (e *Engine) sendNotice(n Notice) {
	if e.notices == nil {
		return
	}
	select {
	case e.notices <- n:
	default:
		// nobody listening, drop
	}
}

// persist writes the current context to the local cache. Cache failures are logged, never returned.
func (e *Engine) persist(ctx context.Context) {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveSnapshot(ctx, e.ws.Snapshot().Persistable()); err != nil {
		e.logger.Warn("failed to cache workspace", "error", err)
	}
}

func (e *Engine) persistQuestion(ctx context.Context, q models.Question) {
	if e.persister == nil {
		return
	}
	if err := e.persister.SaveQuestion(ctx, q); err != nil {
		e.logger.Warn("failed to cache question", "question_id", q.ID, "error", err)
	}
}

func (e *Engine) now() time.Time { return e.clock().UTC() }
