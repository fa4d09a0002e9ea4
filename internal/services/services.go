package services

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"golang.org/x/oauth2"
)

// Identity is an authenticated (or freshly registered) account on the identity provider.
type Identity struct {
	UserID string
	Email  string
	// Token is nil when sign-up is awaiting email confirmation.
	Token *oauth2.Token
}

// SignUpRequest carries the credentials and metadata for a new account.
type SignUpRequest struct {
	Email    string
	Password string
	Metadata map[string]any
}

// IdentityProvider creates and authenticates accounts.
//
// Implementations bind the signed-in user's token to the transport shared with the other services, so
// subsequent store and storage calls run as that user.
type IdentityProvider interface {
	// SignUp registers a new account. Verification email delivery is the provider's concern.
	SignUp(ctx context.Context, req SignUpRequest) (*Identity, error)

	// SignIn exchanges email and password for a token via the password grant.
	SignIn(ctx context.Context, email, password string) (*Identity, error)

	// SignOut revokes the bound session. Signing out with nothing bound is a no-op.
	SignOut(ctx context.Context) error

	// Resume binds a previously issued token and confirms it with the provider.
	Resume(ctx context.Context, token *oauth2.Token) (*Identity, error)

	// CurrentToken returns the bound token, refreshing it if it has expired.
	CurrentToken() (*oauth2.Token, error)
}

// Filter is an equality predicate on a column.
type Filter struct {
	Column string
	Value  any
}

// Order sorts results by a column.
type Order struct {
	Column    string
	Ascending bool
}

// Query selects rows from a single table. Build one with [From].
type Query struct {
	Table   string
	Columns []string
	Filters []Filter
	Orders  []Order
	Limit   int
}

// From starts a [Query] against table.
func From(table string) Query {
	return Query{Table: table}
}

// Select restricts the returned columns. No columns means all.
func (q Query) Select(cols ...string) Query {
	q.Columns = append([]string(nil), cols...)
	return q
}

// Eq adds an equality filter.
func (q Query) Eq(col string, v any) Query {
	q.Filters = append(q.Filters[:len(q.Filters):len(q.Filters)], Filter{Column: col, Value: v})
	return q
}

// Order adds a sort key.
func (q Query) Order(col string, ascending bool) Query {
	q.Orders = append(q.Orders[:len(q.Orders):len(q.Orders)], Order{Column: col, Ascending: ascending})
	return q
}

// TableStore is the relational store.
//
// Rows are JSON-encodable structs (or maps) whose keys are column names. dest arguments are pointers to a
// struct (first row) or to a slice (all rows); a nil dest discards the returned rows.
type TableStore interface {
	// Select returns all rows matching q into dest.
	Select(ctx context.Context, q Query, dest any) error

	// SelectSingle expects exactly one row and returns [shared.ErrNotFound] for zero or many.
	SelectSingle(ctx context.Context, q Query, dest any) error

	// Insert writes one row (or a slice of rows) and optionally reads back the stored representation.
	Insert(ctx context.Context, table string, row any, dest any) error

	// Update applies patch to every row matching q's filters and reports how many rows changed.
	Update(ctx context.Context, q Query, patch any) (int, error)
}

// UploadOptions controls how a blob is stored.
type UploadOptions struct {
	ContentType string
	// Upsert allows an existing object at the same path to be replaced.
	Upsert bool
}

// ObjectStore stores binary blobs by bucket and path and exposes public URLs for them.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, opts UploadOptions) error
	Remove(ctx context.Context, bucket string, paths ...string) error
	PublicURL(bucket, path string) (string, error)
}

// Change event types.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// ChangeEvent is a row-level change published by the backend.
type ChangeEvent struct {
	Table           string          `json:"table"`
	Type            string          `json:"type"`
	Record          json.RawMessage `json:"record,omitempty"`
	OldRecord       json.RawMessage `json:"old_record,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// ChangeHandler receives change events. It runs on the feed's delivery goroutine.
type ChangeHandler func(ChangeEvent)

// Subscription is a live registration on a change feed. Close stops delivery and releases resources.
type Subscription interface {
	Channel() string
	Close() error
}

// ChangeFeed delivers row changes for a table to a handler until the subscription is closed or ctx ends.
type ChangeFeed interface {
	Subscribe(ctx context.Context, channel, table string, h ChangeHandler) (Subscription, error)
	Close() error
}
