package tasks

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/repositories"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	th "github.com/desertthunder/rehearse/internal/testing"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store    *th.FakeStore
	identity *th.FakeIdentity
	objects  *th.FakeObjects
	feed     *th.FakeFeed
	cache    *repositories.StateCache
	notices  chan Notice
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, shared.RunMigrations(db))

	store := th.NewFakeStore()
	store.Seed(models.TablePackages,
		models.Package{ID: "pkg-pro", Name: "Pro", Price: 100, Questions: 5, Active: true},
		models.Package{ID: "pkg-basic", Name: "Basic", Price: 50, Questions: 3, Active: true},
		models.Package{ID: "pkg-old", Name: "Legacy", Price: 10, Questions: 1, Active: false},
	)
	store.Seed(models.TableVouchers,
		models.Voucher{Code: "SAVE10", Discount: 10, Active: true},
		models.Voucher{Code: "FREE", Discount: 100, Active: true},
		models.Voucher{Code: "EXPIRED", Discount: 50, Active: false},
	)

	return &fixture{
		store:    store,
		identity: th.NewFakeIdentity(),
		objects:  th.NewFakeObjects(),
		feed:     th.NewFakeFeed(),
		cache:    repositories.NewStateCache(db),
		notices:  make(chan Notice, 32),
	}
}

func (f *fixture) engine(mods ...func(*Options)) *Engine {
	opts := Options{
		Identity:      f.identity,
		Store:         f.store,
		Objects:       f.objects,
		Feed:          f.feed,
		Persister:     f.cache,
		Logger:        log.New(io.Discard),
		Notices:       f.notices,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64)",
		RemoveOrphans: true,
		Clock:         func() time.Time { return fixedNow },
	}
	for _, m := range mods {
		m(&opts)
	}
	return NewEngine(opts)
}

// account creates a sign-in and its profile row.
func (f *fixture) account(email, password string) string {
	id := f.identity.AddAccount(email, password)
	f.store.Seed(models.TableUsers, models.User{ID: id, Email: email, Name: "Ada", CreatedAt: fixedNow})
	return id
}

func (f *fixture) drain() []NoticeKind {
	var kinds []NoticeKind
	for {
		select {
		case n := <-f.notices:
			kinds = append(kinds, n.Kind)
		default:
			return kinds
		}
	}
}

// loggedIn returns an engine with a signed-in user and an active session on the Basic package.
func loggedIn(t *testing.T, f *fixture) *Engine {
	t.Helper()
	f.account("ada@example.com", "Secret123")
	e := f.engine()
	_, err := e.Login(context.Background(), "ada@example.com", "Secret123")
	require.NoError(t, err)
	_, err = e.SelectPackage(context.Background(), "pkg-basic")
	require.NoError(t, err)
	f.drain()
	return e
}

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{"valid", "Abcdefg1", true},
		{"long valid", "Password1234XYZ", true},
		{"too short", "Abc1", false},
		{"no upper", "abcdefg1", false},
		{"no lower", "ABCDEFG1", false},
		{"no digit", "Abcdefgh", false},
		{"symbol", "Abcdefg1!", false},
		{"space", "Abcd efg1", false},
		{"non ascii", "Abcdéfg1", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ValidatePassword(tt.password))
		})
	}
}

func TestHashPassword(t *testing.T) {
	t.Run("known digest", func(t *testing.T) {
		require.Equal(t, "5e884898da28047151d0e56f8dc6292773603d0d6aabbdd62a11ef721d1542d8", HashPassword("password"))
	})

	t.Run("deterministic 64 hex chars", func(t *testing.T) {
		a, b := HashPassword("Secret123"), HashPassword("Secret123")
		require.Equal(t, a, b)
		require.Len(t, a, 64)
		require.Equal(t, strings.ToLower(a), a)
		require.NotEqual(t, a, HashPassword("Secret124"))
	})
}

func TestHashAnswer(t *testing.T) {
	encoded, err := HashAnswer("  Blue ")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "argon2id$"))
	require.Len(t, strings.Split(encoded, "$"), 3)

	t.Run("verifies normalized answer", func(t *testing.T) {
		require.True(t, VerifyAnswer("blue", encoded))
		require.True(t, VerifyAnswer("BLUE  ", encoded))
		require.False(t, VerifyAnswer("green", encoded))
	})

	t.Run("salted", func(t *testing.T) {
		again, err := HashAnswer("blue")
		require.NoError(t, err)
		require.NotEqual(t, encoded, again)
	})

	t.Run("rejects malformed values", func(t *testing.T) {
		require.False(t, VerifyAnswer("blue", ""))
		require.False(t, VerifyAnswer("blue", "Ymx1ZQ=="))
		require.False(t, VerifyAnswer("blue", "bcrypt$abc$def"))
		require.False(t, VerifyAnswer("blue", "argon2id$!!$!!"))
	})
}

func TestFinalPrice(t *testing.T) {
	pkg := &models.Package{ID: "p", Price: 50}

	tests := []struct {
		name    string
		pkg     *models.Package
		voucher *models.Voucher
		want    float64
	}{
		{"no package", nil, &models.Voucher{Discount: 10}, 0},
		{"no voucher", pkg, nil, 50},
		{"ten percent", pkg, &models.Voucher{Discount: 10}, 45},
		{"zero percent", pkg, &models.Voucher{Discount: 0}, 50},
		{"full discount", pkg, &models.Voucher{Discount: 100}, 0},
		{"over discount clamps", pkg, &models.Voucher{Discount: 150}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.InDelta(t, tt.want, FinalPrice(tt.pkg, tt.voucher), 1e-9)
		})
	}
}

func TestAverageRating(t *testing.T) {
	rating := func(v float64) *float64 { return &v }

	t.Run("empty", func(t *testing.T) {
		require.Zero(t, AverageRating(nil))
	})

	t.Run("no rated questions", func(t *testing.T) {
		require.Zero(t, AverageRating([]models.Question{{ID: "a"}, {ID: "b"}}))
	})

	t.Run("mean of rated", func(t *testing.T) {
		qs := []models.Question{{Rating: rating(3)}, {Rating: rating(4)}, {Rating: rating(5)}, {ID: "unrated"}}
		require.InDelta(t, 4.0, AverageRating(qs), 1e-9)
	})
}

func TestRegister(t *testing.T) {
	valid := RegisterInput{
		Name:     "Ada Lovelace",
		Email:    "ada@example.com",
		Password: "Secret123",
		Answers:  [5]string{"Blue", "London", "Byron", "Engine", "1815"},
	}

	t.Run("creates profile with hashed secrets", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine()

		user, err := e.Register(context.Background(), valid)
		require.NoError(t, err)
		require.NotEmpty(t, user.ID)
		require.Equal(t, HashPassword("Secret123"), user.PasswordHash)
		require.Len(t, user.SecurityAnswers, 5)
		require.True(t, VerifyAnswer("blue", user.SecurityAnswers["q1"]))
		require.True(t, VerifyAnswer("1815", user.SecurityAnswers["q5"]))

		rows := f.store.Rows(models.TableUsers)
		require.Len(t, rows, 1)
		require.Equal(t, user.ID, rows[0]["id"])
		require.Len(t, rows[0]["password_hash"], 64)

		require.Equal(t, []NoticeKind{Registered}, f.drain())
		require.False(t, e.State().LoggedIn())
	})

	t.Run("invalid input makes no calls", func(t *testing.T) {
		inputs := map[string]RegisterInput{
			"missing name":  {Email: valid.Email, Password: valid.Password},
			"bad email":     {Name: valid.Name, Email: "not-an-email", Password: valid.Password},
			"weak password": {Name: valid.Name, Email: valid.Email, Password: "password"},
		}
		for name, in := range inputs {
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				_, err := f.engine().Register(context.Background(), in)
				require.ErrorIs(t, err, shared.ErrValidation)
				require.Empty(t, f.store.Calls())
			})
		}
	})

	t.Run("identity rejection", func(t *testing.T) {
		f := newFixture(t)
		f.identity.SignUpErr = errors.New("email rate limit exceeded")

		_, err := f.engine().Register(context.Background(), valid)
		require.ErrorIs(t, err, shared.ErrAuth)
		require.Empty(t, f.store.Rows(models.TableUsers))
	})

	t.Run("profile write failure", func(t *testing.T) {
		f := newFixture(t)
		f.store.FailOn("insert", models.TableUsers, errors.New("permission denied"))

		_, err := f.engine().Register(context.Background(), valid)
		require.ErrorIs(t, err, shared.ErrProfileWrite)
		require.Empty(t, f.drain())
	})
}

func TestLogin(t *testing.T) {
	t.Run("success loads profile and catalog", func(t *testing.T) {
		f := newFixture(t)
		id := f.account("ada@example.com", "Secret123")
		e := f.engine()

		user, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)
		require.Equal(t, id, user.ID)

		st := e.State()
		require.True(t, st.LoggedIn())
		require.Len(t, st.Catalog, 2)
		require.Equal(t, "Basic", st.Catalog[0].Name)
		require.Equal(t, "Pro", st.Catalog[1].Name)

		auth, err := f.cache.LoadAuth(context.Background())
		require.NoError(t, err)
		require.NotNil(t, auth)
		require.Equal(t, id, auth.UserID)

		require.Contains(t, f.drain(), LoggedIn)
	})

	t.Run("profile secrets are neither loaded nor cached", func(t *testing.T) {
		f := newFixture(t)
		id := f.identity.AddAccount("ada@example.com", "Secret123")
		f.store.Seed(models.TableUsers, models.User{
			ID:              id,
			Email:           "ada@example.com",
			Name:            "Ada",
			PasswordHash:    HashPassword("Secret123"),
			SecurityAnswers: map[string]string{"q1": "salted"},
			CreatedAt:       fixedNow,
		})
		e := f.engine()

		user, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)
		require.Equal(t, "Ada", user.Name)
		require.Empty(t, user.PasswordHash)
		require.Nil(t, user.SecurityAnswers)

		_, err = e.SelectPackage(context.Background(), "pkg-basic")
		require.NoError(t, err)

		snapshot, err := f.cache.LoadSnapshot(context.Background())
		require.NoError(t, err)
		require.NotNil(t, snapshot.User)
		require.Equal(t, id, snapshot.User.ID)
		require.Empty(t, snapshot.User.PasswordHash)
		require.Nil(t, snapshot.User.SecurityAnswers)
	})

	t.Run("wrong password leaves state unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.account("ada@example.com", "Secret123")
		e := f.engine()

		_, err := e.Login(context.Background(), "ada@example.com", "Wrong1234")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
		require.False(t, e.State().LoggedIn())
		require.Empty(t, f.drain())
	})

	t.Run("missing profile", func(t *testing.T) {
		f := newFixture(t)
		f.identity.AddAccount("ghost@example.com", "Secret123")
		e := f.engine()

		_, err := e.Login(context.Background(), "ghost@example.com", "Secret123")
		require.ErrorIs(t, err, shared.ErrInvalidCredentials)
		require.False(t, e.State().LoggedIn())
		require.Nil(t, f.identity.Bound())
	})

	t.Run("empty credentials", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine().Login(context.Background(), " ", "")
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("catalog failure is not fatal", func(t *testing.T) {
		f := newFixture(t)
		f.account("ada@example.com", "Secret123")
		f.store.FailOn("select", models.TablePackages, errors.New("boom"))
		e := f.engine()

		_, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)
		require.Empty(t, e.State().Catalog)
	})
}

func TestLogout(t *testing.T) {
	t.Run("resets workspace and cache", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)

		require.NoError(t, e.Logout(context.Background()))
		st := e.State()
		require.False(t, st.LoggedIn())
		require.Nil(t, st.Session)
		require.Empty(t, st.Questions)

		auth, err := f.cache.LoadAuth(context.Background())
		require.NoError(t, err)
		require.Nil(t, auth)
		require.Equal(t, []NoticeKind{LoggedOut}, f.drain())
	})

	t.Run("remote failure keeps state", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.identity.SignOutErr = errors.New("network down")

		err := e.Logout(context.Background())
		require.ErrorIs(t, err, shared.ErrAuth)
		require.True(t, e.State().LoggedIn())
		require.NotNil(t, e.State().Session)
	})
}

func TestRestoreSession(t *testing.T) {
	t.Run("resumes cached session", func(t *testing.T) {
		f := newFixture(t)
		first := loggedIn(t, f)
		want := first.State()

		second := f.engine()
		user, err := second.RestoreSession(context.Background())
		require.NoError(t, err)
		require.NotNil(t, user)
		require.Equal(t, want.User.ID, user.ID)

		st := second.State()
		require.Equal(t, want.Session.ID, st.Session.ID)
		require.Len(t, st.Questions, 3)
		require.Equal(t, want.Questions[0].ID, st.Questions[0].ID)
		require.Len(t, st.Catalog, 2)
	})

	t.Run("nothing cached", func(t *testing.T) {
		f := newFixture(t)
		user, err := f.engine().RestoreSession(context.Background())
		require.NoError(t, err)
		require.Nil(t, user)
	})

	t.Run("rejected token clears cache", func(t *testing.T) {
		f := newFixture(t)
		loggedIn(t, f)
		f.identity.ResumeErr = shared.ErrTokenExpired

		e := f.engine()
		user, err := e.RestoreSession(context.Background())
		require.NoError(t, err)
		require.Nil(t, user)
		require.False(t, e.State().LoggedIn())

		auth, err := f.cache.LoadAuth(context.Background())
		require.NoError(t, err)
		require.Nil(t, auth)
	})

	t.Run("missing profile", func(t *testing.T) {
		f := newFixture(t)
		loggedIn(t, f)
		f.store.FailOn("select", models.TableUsers, shared.ErrNotFound)

		e := f.engine()
		_, err := e.RestoreSession(context.Background())
		require.ErrorIs(t, err, shared.ErrNotFound)
		require.False(t, e.State().LoggedIn())
	})
}

func TestSelectPackage(t *testing.T) {
	t.Run("creates session at full price", func(t *testing.T) {
		f := newFixture(t)
		f.account("ada@example.com", "Secret123")
		e := f.engine()
		_, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)

		session, err := e.SelectPackage(context.Background(), "pkg-basic")
		require.NoError(t, err)
		require.NotEmpty(t, session.ID)
		require.Equal(t, session.Price, session.FinalPrice)
		require.Equal(t, 50.0, session.FinalPrice)
		require.Equal(t, "Basic", session.PackageName)
		require.Equal(t, 3, session.QuestionsCount)
		require.Equal(t, "paid", session.Status)
		require.Equal(t, paymentPlaceholder, session.PaymentDetails)
		require.Equal(t, models.SessionContext{RoleName: "user", CompanyName: "N/A"}, session.Context)
		require.Nil(t, session.VoucherCode)

		st := e.State()
		require.Equal(t, "pkg-basic", st.Package.ID)
		require.Len(t, st.Questions, 3)
		require.Zero(t, st.Cursor)
		for i, q := range st.Questions {
			require.Equal(t, session.ID, q.SessionID)
			require.Equal(t, i+1, q.Position)
		}
		require.NotEqual(t, st.Questions[0].ID, st.Questions[1].ID)

		kinds := f.drain()
		require.Contains(t, kinds, PackageSelected)
		require.Contains(t, kinds, SessionCreated)
	})

	t.Run("unknown package", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		_, err := e.SelectPackage(context.Background(), "pkg-missing")
		require.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("anonymous user cannot create a session", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine()
		_, err := e.SelectPackage(context.Background(), "pkg-basic")
		require.ErrorIs(t, err, shared.ErrPrecondition)
		require.Empty(t, f.store.Rows(models.TableSessions))
	})

	t.Run("insert failure", func(t *testing.T) {
		f := newFixture(t)
		f.account("ada@example.com", "Secret123")
		f.store.FailOn("insert", models.TableSessions, errors.New("rls violation"))
		e := f.engine()
		_, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)

		_, err = e.SelectPackage(context.Background(), "pkg-basic")
		require.ErrorIs(t, err, shared.ErrSessionCreate)
		require.Nil(t, e.State().Session)
	})
}

func TestApplyVoucher(t *testing.T) {
	t.Run("discount applies to new session", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)

		v, err := e.ApplyVoucher(context.Background(), " SAVE10 ")
		require.NoError(t, err)
		require.Equal(t, 10.0, v.Discount)
		require.InDelta(t, 45.0, e.ComputeFinalPrice(), 1e-9)

		session, err := e.CreateSession(context.Background())
		require.NoError(t, err)
		require.InDelta(t, 45.0, session.FinalPrice, 1e-9)
		require.NotNil(t, session.VoucherCode)
		require.Equal(t, "SAVE10", *session.VoucherCode)
		require.Contains(t, f.drain(), VoucherApplied)
	})

	t.Run("inactive voucher clears the applied one", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		_, err := e.ApplyVoucher(context.Background(), "SAVE10")
		require.NoError(t, err)

		_, err = e.ApplyVoucher(context.Background(), "EXPIRED")
		require.ErrorIs(t, err, shared.ErrInvalidVoucher)
		require.Nil(t, e.State().Voucher)
		require.Equal(t, 50.0, e.ComputeFinalPrice())
	})

	t.Run("empty code", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine().ApplyVoucher(context.Background(), "")
		require.ErrorIs(t, err, shared.ErrInvalidVoucher)
		require.Empty(t, f.store.Calls())
	})
}

func TestQuestionCursor(t *testing.T) {
	f := newFixture(t)
	e := loggedIn(t, f)
	ctx := context.Background()

	q, err := e.CurrentQuestion()
	require.NoError(t, err)
	require.Equal(t, 1, q.Position)

	q, err = e.AdvanceQuestion(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, q.Position)

	_, err = e.AdvanceQuestion(ctx)
	require.NoError(t, err)
	_, err = e.AdvanceQuestion(ctx)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = e.AdvanceQuestion(ctx)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Equal(t, 3, e.State().Cursor)

	t.Run("requires a session", func(t *testing.T) {
		_, err := newFixture(t).engine().CurrentQuestion()
		require.ErrorIs(t, err, shared.ErrPrecondition)
	})
}

func TestSaveResponse(t *testing.T) {
	answer := func(typ models.RecordingType) Answer {
		return Answer{Body: strings.NewReader("webm-bytes"), Type: typ, Duration: 42}
	}

	t.Run("without session", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine()

		_, err := e.SaveResponse(context.Background(), "q-1", answer(models.RecordingVideo))
		require.ErrorIs(t, err, shared.ErrAuth)
		require.Zero(t, f.objects.Uploads())
		require.Empty(t, f.store.Rows(models.TableResponses))
	})

	t.Run("uploads then records", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		st := e.State()
		qid := st.Questions[0].ID

		resp, err := e.SaveResponse(context.Background(), qid, answer(models.RecordingVideo))
		require.NoError(t, err)

		key := "recordings/" + RecordingPath(st.User.ID, st.Session.ID, qid, fixedNow.UnixMilli())
		body, contentType, ok := f.objects.Object(key)
		require.True(t, ok, "missing object %s; have %v", key, f.objects.Keys())
		require.Equal(t, "webm-bytes", string(body))
		require.Equal(t, "video/webm", contentType)
		require.Equal(t, "https://cdn.test/"+key, resp.RecordingURL)

		rows := f.store.Rows(models.TableResponses)
		require.Len(t, rows, 1)
		require.Equal(t, qid, rows[0]["question_id"])
		require.Equal(t, "video", rows[0]["recording_type"])
		require.Equal(t, 42.0, rows[0]["duration"])

		q := e.State().Questions[0]
		require.True(t, q.Answered())
		require.Equal(t, resp.RecordingURL, q.UserResponse.RecordingURL)
		require.Equal(t, []NoticeKind{ResponseSaved}, f.drain())
	})

	t.Run("audio content type", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		st := e.State()

		_, err := e.SaveResponse(context.Background(), "q-audio", answer(models.RecordingAudio))
		require.NoError(t, err)
		_, contentType, ok := f.objects.Object("recordings/" + RecordingPath(st.User.ID, st.Session.ID, "q-audio", fixedNow.UnixMilli()))
		require.True(t, ok)
		require.Equal(t, "audio/webm", contentType)
	})

	t.Run("unknown recording type", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		_, err := e.SaveResponse(context.Background(), "q-1", answer("gif"))
		require.ErrorIs(t, err, shared.ErrValidation)
		require.Zero(t, f.objects.Uploads())
	})

	t.Run("upload failure writes no row", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.objects.UploadErr = errors.New("bucket not found")

		_, err := e.SaveResponse(context.Background(), "q-1", answer(models.RecordingVideo))
		require.ErrorIs(t, err, shared.ErrUpload)
		require.Empty(t, f.store.Rows(models.TableResponses))
	})

	t.Run("missing public url", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.objects.EmptyURL = true

		_, err := e.SaveResponse(context.Background(), "q-1", answer(models.RecordingVideo))
		require.ErrorIs(t, err, shared.ErrUpload)
		require.Empty(t, f.store.Rows(models.TableResponses))
	})

	t.Run("persist failure removes the recording", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.store.FailOn("insert", models.TableResponses, errors.New("rls violation"))

		_, err := e.SaveResponse(context.Background(), "q-1", answer(models.RecordingVideo))
		require.ErrorIs(t, err, shared.ErrPersist)
		require.Empty(t, f.objects.Keys())
		require.Len(t, f.objects.Removed(), 1)
	})

	t.Run("persist failure keeps the recording when removal is off", func(t *testing.T) {
		f := newFixture(t)
		f.account("ada@example.com", "Secret123")
		e := f.engine(func(o *Options) { o.RemoveOrphans = false })
		_, err := e.Login(context.Background(), "ada@example.com", "Secret123")
		require.NoError(t, err)
		_, err = e.SelectPackage(context.Background(), "pkg-basic")
		require.NoError(t, err)
		f.store.FailOn("insert", models.TableResponses, errors.New("rls violation"))

		_, err = e.SaveResponse(context.Background(), "q-1", answer(models.RecordingVideo))
		require.ErrorIs(t, err, shared.ErrPersist)
		require.Len(t, f.objects.Keys(), 1)
		require.Empty(t, f.objects.Removed())
	})
}

func TestSaveAnalysis(t *testing.T) {
	t.Run("second call overwrites", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		qid := e.State().Questions[0].ID
		ctx := context.Background()

		_, err := e.SaveResponse(ctx, qid, Answer{Body: strings.NewReader("x"), Type: models.RecordingAudio, Duration: 5})
		require.NoError(t, err)

		require.NoError(t, e.SaveAnalysis(ctx, qid, models.Analysis{"overallRating": 4.0, "summary": "clear"}))
		require.NoError(t, e.SaveAnalysis(ctx, qid, models.Analysis{"overallRating": 2.0}))

		rows := f.store.Rows(models.TableResponses)
		require.Len(t, rows, 1)
		require.Equal(t, true, rows[0]["analyzed"])
		require.Equal(t, 2.0, rows[0]["rating"])
		require.NotContains(t, rows[0]["analysis"], "summary")

		q := e.State().Questions[0]
		require.True(t, q.Analyzed)
		require.NotNil(t, q.Rating)
		require.Equal(t, 2.0, *q.Rating)
	})

	t.Run("no rating in payload", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		qid := e.State().Questions[1].ID

		require.NoError(t, e.SaveAnalysis(context.Background(), qid, models.Analysis{"notes": "ok"}))
		q := e.State().Questions[1]
		require.True(t, q.Analyzed)
		require.Nil(t, q.Rating)
	})

	t.Run("update failure", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.store.FailOn("update", models.TableResponses, errors.New("timeout"))

		err := e.SaveAnalysis(context.Background(), "q-1", models.Analysis{"overallRating": 3})
		require.ErrorIs(t, err, shared.ErrPersist)
	})
}

func TestBuildUsageSummary(t *testing.T) {
	started := fixedNow.Add(-90 * time.Second)
	rating := 4.0
	role := "Engineer"
	st := State{
		User:    &models.User{ID: "user-1", Role: &role},
		Package: &models.Package{ID: "pkg-basic", Name: "Basic", Price: 50},
		Voucher: &models.Voucher{Code: "SAVE10", Discount: 10},
		Session: &models.Session{
			ID:         "session-1",
			FinalPrice: 45,
			Context:    models.SessionContext{RoleName: role, CompanyName: "N/A"},
			CreatedAt:  &started,
		},
		Questions: []models.Question{
			{ID: "q1", UserResponse: &models.RecordedAnswer{Type: models.RecordingVideo}, Analyzed: true, Rating: &rating},
			{ID: "q2", UserResponse: &models.RecordedAnswer{Type: models.RecordingAudio}},
			{ID: "q3"},
		},
	}

	t.Run("flattens workspace", func(t *testing.T) {
		u, err := BuildUsageSummary(st, "Mozilla/5.0 (iPhone) Mobile/15E148", fixedNow)
		require.NoError(t, err)
		require.Equal(t, "user-1", u.UserID)
		require.Equal(t, "session-1", u.SessionID)
		require.Equal(t, "Basic", *u.PackageUsed)
		require.Equal(t, "pkg-basic", *u.PackageID)
		require.Equal(t, 3, u.QuestionsTotal)
		require.Equal(t, 2, u.QuestionsAnswered)
		require.Equal(t, 1, u.QuestionsAnalyzed)
		require.Equal(t, "SAVE10", *u.VoucherUsed)
		require.Equal(t, 10.0, u.VoucherDiscount)
		require.Equal(t, "Engineer", u.RoleName)
		require.Equal(t, "N/A", u.CompanyName)
		require.Equal(t, 4.0, u.AverageQuestionRating)
		require.Equal(t, int64(90_000), u.TotalSessionDuration)
		require.Equal(t, 1, u.VideoResponsesCount)
		require.Equal(t, 1, u.AudioResponsesCount)
		require.Nil(t, u.AppFeedbackRating)
		require.Equal(t, "No additional comments provided", u.AppFeedbackText)
		require.Equal(t, 50.0, *u.PriceOriginal)
		require.Equal(t, 45.0, u.PricePaid)
		require.Equal(t, "PayPal", u.PaymentMethod)
		require.Equal(t, "Mobile", u.DeviceType)
		require.Equal(t, &started, u.SessionStarted)
		require.Equal(t, fixedNow, u.SessionCompleted)
	})

	t.Run("free session without voucher", func(t *testing.T) {
		free := st.clone()
		free.Voucher = nil
		free.Session = &models.Session{ID: "session-2", FinalPrice: 0}

		u, err := BuildUsageSummary(free, "curl/8.0", fixedNow)
		require.NoError(t, err)
		require.Equal(t, "Free", u.PaymentMethod)
		require.Equal(t, "Desktop", u.DeviceType)
		require.Nil(t, u.VoucherUsed)
		require.Zero(t, u.VoucherDiscount)
		require.Zero(t, u.TotalSessionDuration)
	})

	t.Run("requires user and session", func(t *testing.T) {
		_, err := BuildUsageSummary(State{User: st.User}, "", fixedNow)
		require.ErrorIs(t, err, shared.ErrPrecondition)
	})
}

func TestSaveUsageData(t *testing.T) {
	t.Run("writes one row", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)

		u, err := e.SaveUsageData(context.Background())
		require.NoError(t, err)
		require.Equal(t, "Desktop", u.DeviceType)

		rows := f.store.Rows(models.TableUsage)
		require.Len(t, rows, 1)
		require.Equal(t, e.State().Session.ID, rows[0]["session_id"])
		require.Equal(t, []NoticeKind{UsageSaved}, f.drain())
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine().SaveUsageData(context.Background())
		require.ErrorIs(t, err, shared.ErrPrecondition)
		require.Empty(t, f.store.Rows(models.TableUsage))
	})

	t.Run("insert failure", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		f.store.FailOn("insert", models.TableUsage, errors.New("boom"))
		_, err := e.SaveUsageData(context.Background())
		require.ErrorIs(t, err, shared.ErrPersist)
	})
}

func TestSaveFeedbackData(t *testing.T) {
	t.Run("default text", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)

		fb, err := e.SaveFeedbackData(context.Background(), FeedbackInput{Rating: 5, Text: "  "})
		require.NoError(t, err)
		require.Equal(t, "No additional comments provided", fb.FeedbackText)

		rows := f.store.Rows(models.TableFeedback)
		require.Len(t, rows, 1)
		require.Equal(t, 5.0, rows[0]["rating"])
		require.Equal(t, []NoticeKind{FeedbackSaved}, f.drain())
	})

	t.Run("rating out of range", func(t *testing.T) {
		f := newFixture(t)
		e := loggedIn(t, f)
		_, err := e.SaveFeedbackData(context.Background(), FeedbackInput{Rating: 0})
		require.ErrorIs(t, err, shared.ErrValidation)
	})

	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine().SaveFeedbackData(context.Background(), FeedbackInput{Rating: 3})
		require.ErrorIs(t, err, shared.ErrPrecondition)
	})
}

func TestNotifier(t *testing.T) {
	t.Run("package change refreshes catalog", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine()

		got := make(chan []models.Package, 1)
		n, err := e.StartNotifier(context.Background(), func(p []models.Package) { got <- p })
		require.NoError(t, err)
		defer n.Close()
		require.Equal(t, 2, f.feed.Active())

		f.store.Seed(models.TablePackages, models.Package{ID: "pkg-new", Name: "Starter", Price: 5, Questions: 1, Active: true})
		f.feed.Emit(models.TablePackages, "INSERT", map[string]any{"id": "pkg-new"})

		catalog := <-got
		require.Len(t, catalog, 3)
		require.Equal(t, "Starter", catalog[0].Name)
		require.Len(t, e.State().Catalog, 3)
		require.Contains(t, f.drain(), CatalogChanged)
	})

	t.Run("row update notified by postgres refreshes catalog", func(t *testing.T) {
		f := newFixture(t)
		pg := th.NewFakeNotifications()
		e := f.engine(func(o *Options) {
			o.Feed = services.NewPostgresFeedWith(pg.Listen, pg.Notify, log.New(io.Discard))
		})

		got := make(chan []models.Package, 1)
		n, err := e.StartNotifier(context.Background(), func(p []models.Package) { got <- p })
		require.NoError(t, err)
		require.Equal(t, 2, pg.Open())

		ctx := context.Background()
		updated, err := f.store.Update(ctx, services.From(models.TablePackages).Eq("id", "pkg-basic"), map[string]any{"price": 40})
		require.NoError(t, err)
		require.Equal(t, 1, updated)
		// payload as built by notify_row_change()
		require.NoError(t, pg.Notify(ctx, services.PostgresChannel(models.TablePackages),
			`{"table":"packages","type":"UPDATE","record":{"id":"pkg-basic","price":40},`+
				`"old_record":{"id":"pkg-basic","price":50},"commit_timestamp":"2025-03-14T09:30:00.123456+00:00"}`))

		select {
		case catalog := <-got:
			require.Len(t, catalog, 2)
			require.Equal(t, "Basic", catalog[0].Name)
			require.Equal(t, 40.0, catalog[0].Price)
		case <-time.After(2 * time.Second):
			t.Fatal("expected the listener to receive the refreshed catalog")
		}

		require.NoError(t, n.Close())
		require.Zero(t, pg.Open())
	})

	t.Run("voucher change only notifies", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine()
		n, err := e.StartNotifier(context.Background(), nil)
		require.NoError(t, err)
		defer n.Close()

		f.feed.Emit(models.TableVouchers, "UPDATE", map[string]any{"code": "SAVE10"})
		require.Equal(t, []NoticeKind{VoucherChanged}, f.drain())
		require.NotContains(t, f.store.Calls(), "select:"+models.TablePackages)
	})

	t.Run("close releases subscriptions", func(t *testing.T) {
		f := newFixture(t)
		n, err := f.engine().StartNotifier(context.Background(), nil)
		require.NoError(t, err)

		require.NoError(t, n.Close())
		require.NoError(t, n.Close())
		require.Zero(t, f.feed.Active())
		<-n.Done()
	})

	t.Run("cancelled context releases subscriptions", func(t *testing.T) {
		f := newFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		n, err := f.engine().StartNotifier(ctx, nil)
		require.NoError(t, err)

		cancel()
		<-n.Done()
		require.Eventually(t, func() bool { return f.feed.Active() == 0 }, time.Second, 10*time.Millisecond)
	})

	t.Run("second subscription failure", func(t *testing.T) {
		f := newFixture(t)
		f.feed.SubscribeErr[VouchersChannel] = errors.New("channel limit")

		_, err := f.engine().StartNotifier(context.Background(), nil)
		require.Error(t, err)
		require.Zero(t, f.feed.Active())
	})

	t.Run("disabled feed", func(t *testing.T) {
		f := newFixture(t)
		e := f.engine(func(o *Options) { o.Feed = nil })
		_, err := e.StartNotifier(context.Background(), nil)
		require.ErrorIs(t, err, shared.ErrServiceUnavailable)
	})
}

func TestWorkspace(t *testing.T) {
	t.Run("snapshots do not alias", func(t *testing.T) {
		ws := NewWorkspace()
		ws.Update(func(s *State) { s.Questions = []models.Question{{ID: "a"}} })

		snap := ws.Snapshot()
		snap.Questions[0].ID = "changed"
		require.Equal(t, "a", ws.Snapshot().Questions[0].ID)
	})

	t.Run("reset", func(t *testing.T) {
		ws := NewWorkspace()
		ws.Update(func(s *State) {
			s.User = &models.User{ID: "u"}
			s.Cursor = 2
		})
		ws.Reset()
		require.Equal(t, State{}, ws.Snapshot())
	})

	t.Run("persistable drops user secrets", func(t *testing.T) {
		st := State{User: &models.User{
			ID:              "u",
			Email:           "ada@example.com",
			PasswordHash:    "hash",
			SecurityAnswers: map[string]string{"q1": "a"},
		}}

		snapshot := st.Persistable()
		require.Equal(t, "u", snapshot.User.ID)
		require.Equal(t, "ada@example.com", snapshot.User.Email)
		require.Empty(t, snapshot.User.PasswordHash)
		require.Nil(t, snapshot.User.SecurityAnswers)
		require.Equal(t, "hash", st.User.PasswordHash)
		require.Nil(t, State{}.Persistable().User)
	})

	t.Run("restore keeps catalog", func(t *testing.T) {
		ws := NewWorkspace()
		ws.Update(func(s *State) { s.Catalog = []models.Package{{ID: "p"}} })
		ws.Restore(models.Snapshot{User: &models.User{ID: "u"}, Cursor: 1})

		st := ws.Snapshot()
		require.Equal(t, "u", st.User.ID)
		require.Equal(t, 1, st.Cursor)
		require.Len(t, st.Catalog, 1)
	})
}

func TestNoticesNeverBlock(t *testing.T) {
	f := newFixture(t)
	f.account("ada@example.com", "Secret123")
	unbuffered := make(chan Notice)
	e := f.engine(func(o *Options) { o.Notices = unbuffered })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Login(context.Background(), "ada@example.com", "Secret123")
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workflow blocked on notice channel")
	}
}

func TestNoticeKindString(t *testing.T) {
	require.Equal(t, "logged_in", LoggedIn.String())
	require.Equal(t, "catalog_changed", CatalogChanged.String())
	require.Empty(t, NoticeKind(99).String())
}
