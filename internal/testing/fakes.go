package testing

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/oauth2"
)

type row = map[string]any

// FakeStore is an in-memory [services.TableStore]. Rows are kept as decoded JSON objects, so filters and
// ordering behave like they do against the real backend.
//
// Inserted rows without an "id" get a UUID; rows without "created_at" get the insert time.
type FakeStore struct {
	mu     sync.Mutex
	tables map[string][]row
	fail   map[string]error
	calls  []string
}

func NewFakeStore() *FakeStore {
	return &FakeStore{tables: map[string][]row{}, fail: map[string]error{}}
}

// FailOn makes op ("select", "insert", "update", "upsert") against table return err.
func (s *FakeStore) FailOn(op, table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op+":"+table] = err
}

// Seed inserts rows as-is.
func (s *FakeStore) Seed(table string, rows ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		decoded, err := toRows(r)
		if err != nil {
			panic(err)
		}
		s.tables[table] = append(s.tables[table], decoded...)
	}
}

// Rows returns a copy of the rows stored in table.
func (s *FakeStore) Rows(table string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, 0, len(s.tables[table]))
	for _, r := range s.tables[table] {
		out = append(out, maps.Clone(r))
	}
	return out
}

// Calls lists the operations performed, as "op:table".
func (s *FakeStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.calls)
}

func (s *FakeStore) record(op, table string) error {
	s.calls = append(s.calls, op+":"+table)
	return s.fail[op+":"+table]
}

func (s *FakeStore) Select(_ context.Context, q services.Query, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("select", q.Table); err != nil {
		return err
	}
	return decodeInto(s.query(q), dest)
}

func (s *FakeStore) SelectSingle(_ context.Context, q services.Query, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("select", q.Table); err != nil {
		return err
	}
	rows := s.query(q)
	if len(rows) != 1 {
		return fmt.Errorf("%w: %d rows in %s", shared.ErrNotFound, len(rows), q.Table)
	}
	return decodeInto(rows[0], dest)
}

func (s *FakeStore) Insert(_ context.Context, table string, r any, dest any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("insert", table); err != nil {
		return err
	}

	rows, err := toRows(r)
	if err != nil {
		return err
	}
	for _, nr := range rows {
		if id, _ := nr["id"].(string); id == "" {
			nr["id"] = uuid.NewString()
		}
		if _, ok := nr["created_at"]; !ok {
			nr["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
	}
	s.tables[table] = append(s.tables[table], rows...)

	if len(rows) == 1 {
		return decodeInto(rows[0], dest)
	}
	return decodeInto(rows, dest)
}

func (s *FakeStore) Update(_ context.Context, q services.Query, patch any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("update", q.Table); err != nil {
		return 0, err
	}

	p, err := toRows(patch)
	if err != nil {
		return 0, err
	}
	if len(p) != 1 {
		return 0, fmt.Errorf("%w: patch must be a single object", shared.ErrInvalidArgument)
	}

	n := 0
	for _, r := range s.tables[q.Table] {
		if matches(r, q.Filters) {
			maps.Copy(r, p[0])
			n++
		}
	}
	return n, nil
}

func (s *FakeStore) query(q services.Query) []row {
	var out []row
	for _, r := range s.tables[q.Table] {
		if matches(r, q.Filters) {
			out = append(out, maps.Clone(r))
		}
	}

	for i := len(q.Orders) - 1; i >= 0; i-- {
		o := q.Orders[i]
		slices.SortStableFunc(out, func(a, b row) int {
			c := compareValues(a[o.Column], b[o.Column])
			if !o.Ascending {
				c = -c
			}
			return c
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if len(q.Columns) > 0 {
		for i, r := range out {
			projected := row{}
			for _, c := range q.Columns {
				if v, ok := r[c]; ok {
					projected[c] = v
				}
			}
			out[i] = projected
		}
	}
	return out
}

func matches(r row, filters []services.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(r[f.Column]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

func compareValues(a, b any) int {
	fa, aok := a.(float64)
	fb, bok := b.(float64)
	if aok && bok {
		return cmp.Compare(fa, fb)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// toRows normalizes a struct, map or slice of either into decoded JSON objects.
func toRows(v any) ([]row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if rv := reflect.Indirect(reflect.ValueOf(v)); rv.Kind() == reflect.Slice {
		var rows []row
		err := json.Unmarshal(b, &rows)
		return rows, err
	}
	var r row
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return []row{r}, nil
}

func decodeInto(v any, dest any) error {
	if dest == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

type fakeAccount struct {
	id       string
	password string
}

// FakeIdentity is an in-memory [services.IdentityProvider]. Tokens are opaque strings of the form
// "token-{userID}".
type FakeIdentity struct {
	mu       sync.Mutex
	accounts map[string]fakeAccount
	bound    *services.Identity
	signOuts int

	SignUpErr  error
	SignOutErr error
	ResumeErr  error
}

func NewFakeIdentity() *FakeIdentity {
	return &FakeIdentity{accounts: map[string]fakeAccount{}}
}

// AddAccount registers an account directly and returns its user id.
func (f *FakeIdentity) AddAccount(email, password string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.accounts[email] = fakeAccount{id: id, password: password}
	return id
}

// Bound returns the identity the provider currently holds, or nil.
func (f *FakeIdentity) Bound() *services.Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bound
}

// SignOuts counts successful sign-outs with a bound session.
func (f *FakeIdentity) SignOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOuts
}

func fakeToken(userID string) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "token-" + userID,
		TokenType:    "bearer",
		RefreshToken: "refresh-" + userID,
		Expiry:       time.Now().Add(time.Hour),
	}
}

func (f *FakeIdentity) SignUp(_ context.Context, req services.SignUpRequest) (*services.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SignUpErr != nil {
		return nil, f.SignUpErr
	}
	if _, ok := f.accounts[req.Email]; ok {
		return nil, fmt.Errorf("%w: user already registered", shared.ErrConflict)
	}
	id := uuid.NewString()
	f.accounts[req.Email] = fakeAccount{id: id, password: req.Password}
	return &services.Identity{UserID: id, Email: req.Email}, nil
}

func (f *FakeIdentity) SignIn(_ context.Context, email, password string) (*services.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[email]
	if !ok || acct.password != password {
		return nil, fmt.Errorf("%w: invalid login credentials", shared.ErrAuth)
	}
	f.bound = &services.Identity{UserID: acct.id, Email: email, Token: fakeToken(acct.id)}
	return f.bound, nil
}

func (f *FakeIdentity) SignOut(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == nil {
		return nil
	}
	if f.SignOutErr != nil {
		return f.SignOutErr
	}
	f.bound = nil
	f.signOuts++
	return nil
}

func (f *FakeIdentity) Resume(_ context.Context, token *oauth2.Token) (*services.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ResumeErr != nil {
		return nil, f.ResumeErr
	}
	if token == nil {
		return nil, shared.ErrNotAuthenticated
	}
	for email, acct := range f.accounts {
		if token.AccessToken == "token-"+acct.id {
			f.bound = &services.Identity{UserID: acct.id, Email: email, Token: token}
			return f.bound, nil
		}
	}
	return nil, fmt.Errorf("%w: unknown token", shared.ErrNotAuthenticated)
}

func (f *FakeIdentity) CurrentToken() (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bound == nil {
		return nil, shared.ErrNotAuthenticated
	}
	return f.bound.Token, nil
}

// FakeObjects is an in-memory [services.ObjectStore] serving public URLs under https://cdn.test/.
type FakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	removed []string
	uploads int

	UploadErr error
	RemoveErr error
	URLErr    error
	EmptyURL  bool
}

func NewFakeObjects() *FakeObjects {
	return &FakeObjects{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *FakeObjects) Upload(_ context.Context, bucket, path string, body io.Reader, opts services.UploadOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.UploadErr != nil {
		return f.UploadErr
	}

	key := bucket + "/" + path
	if _, ok := f.objects[key]; ok && !opts.Upsert {
		return fmt.Errorf("%w: %s", shared.ErrConflict, key)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return err
	}
	f.objects[key] = buf.Bytes()
	f.types[key] = opts.ContentType
	return nil
}

func (f *FakeObjects) Remove(_ context.Context, bucket string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RemoveErr != nil {
		return f.RemoveErr
	}
	for _, p := range paths {
		key := bucket + "/" + p
		delete(f.objects, key)
		delete(f.types, key)
		f.removed = append(f.removed, key)
	}
	return nil
}

func (f *FakeObjects) PublicURL(bucket, path string) (string, error) {
	if f.URLErr != nil {
		return "", f.URLErr
	}
	if f.EmptyURL {
		return "", nil
	}
	return "https://cdn.test/" + bucket + "/" + path, nil
}

// Object returns the stored bytes and content type for bucket/path.
func (f *FakeObjects) Object(key string) ([]byte, string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, f.types[key], ok
}

// Keys lists the stored objects as "bucket/path".
func (f *FakeObjects) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Sorted(maps.Keys(f.objects))
}

// Uploads counts upload attempts, including failed ones.
func (f *FakeObjects) Uploads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// Removed lists the removed objects as "bucket/path".
func (f *FakeObjects) Removed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.removed)
}

// FakeFeed is a [services.ChangeFeed] whose events are delivered synchronously by [FakeFeed.Emit].
type FakeFeed struct {
	mu        sync.Mutex
	subs      map[*fakeSubscription]struct{}
	published []services.ChangeEvent

	// SubscribeErr fails subscriptions to the named channels.
	SubscribeErr map[string]error
}

func NewFakeFeed() *FakeFeed {
	return &FakeFeed{subs: map[*fakeSubscription]struct{}{}, SubscribeErr: map[string]error{}}
}

type fakeSubscription struct {
	feed    *FakeFeed
	channel string
	table   string
	handler services.ChangeHandler
	once    sync.Once
}

func (s *fakeSubscription) Channel() string { return s.channel }

func (s *fakeSubscription) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
	})
	return nil
}

func (f *FakeFeed) Subscribe(ctx context.Context, channel, table string, h services.ChangeHandler) (services.Subscription, error) {
	f.mu.Lock()
	if err := f.SubscribeErr[channel]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	sub := &fakeSubscription{feed: f, channel: channel, table: table, handler: h}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()
	return sub, nil
}

// Emit delivers an event to every subscription on table.
func (f *FakeFeed) Emit(table, eventType string, record any) {
	raw, _ := json.Marshal(record)
	f.Publish(context.Background(), services.ChangeEvent{
		Table: table, Type: eventType, Record: raw, CommitTimestamp: time.Now().UTC(),
	})
}

// Publish records ev and delivers it like [FakeFeed.Emit].
func (f *FakeFeed) Publish(_ context.Context, ev services.ChangeEvent) error {
	f.mu.Lock()
	f.published = append(f.published, ev)
	var handlers []services.ChangeHandler
	for s := range f.subs {
		if s.table == ev.Table {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
	return nil
}

// Published lists every event sent through the feed.
func (f *FakeFeed) Published() []services.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.published)
}

// Active counts open subscriptions.
func (f *FakeFeed) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

func (f *FakeFeed) Close() error {
	f.mu.Lock()
	subs := slices.Collect(maps.Keys(f.subs))
	f.mu.Unlock()
	for _, s := range subs {
		s.Close()
	}
	return nil
}

// FakeNotifications stands in for a Postgres server's LISTEN/NOTIFY. Pass Listen and Notify to
// [services.NewPostgresFeedWith].
type FakeNotifications struct {
	mu        sync.Mutex
	listeners map[string][]*fakeListener
}

func NewFakeNotifications() *FakeNotifications {
	return &FakeNotifications{listeners: map[string][]*fakeListener{}}
}

type fakeListener struct {
	channel string
	notes   chan *pgconn.Notification
	closed  chan struct{}
	once    sync.Once
}

func (l *fakeListener) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, fmt.Errorf("%w: listener closed", shared.ErrServiceUnavailable)
	case n := <-l.notes:
		return n, nil
	}
}

func (l *fakeListener) Close(context.Context) error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *fakeListener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

// Listen opens a listener on channel.
func (f *FakeNotifications) Listen(_ context.Context, channel string) (services.Listener, error) {
	l := &fakeListener{channel: channel, notes: make(chan *pgconn.Notification, 16), closed: make(chan struct{})}
	f.mu.Lock()
	f.listeners[channel] = append(f.listeners[channel], l)
	f.mu.Unlock()
	return l, nil
}

// Notify queues payload for every open listener on channel, like pg_notify.
func (f *FakeNotifications) Notify(_ context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.listeners[channel] {
		if l.isClosed() {
			continue
		}
		select {
		case l.notes <- &pgconn.Notification{Channel: channel, Payload: payload}:
		default:
			return fmt.Errorf("notification queue full on %s", channel)
		}
	}
	return nil
}

// Open counts listeners that have not been closed.
func (f *FakeNotifications) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ls := range f.listeners {
		for _, l := range ls {
			if !l.isClosed() {
				n++
			}
		}
	}
	return n
}
