package tasks

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/services"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/argon2"
)

const (
	minPasswordLength = 8

	answerTime    = 1
	answerMemory  = 64 * 1024
	answerThreads = 4
	answerKeyLen  = 32
	answerSaltLen = 16
	answerScheme  = "argon2id"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// RegisterInput is the registration form.
type RegisterInput struct {
	Name     string    `validate:"required"`
	Email    string    `validate:"required,email"`
	Password string    `validate:"required"`
	Answers  [5]string // security questions q1..q5
}

// ValidatePassword reports whether password has at least 8 characters, only ASCII letters and digits, and at
// least one upper-case letter, one lower-case letter and one digit.
func ValidatePassword(password string) bool {
	if len(password) < minPasswordLength {
		return false
	}

	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r > unicode.MaxASCII:
			return false
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			return false
		}
	}
	return upper && lower && digit
}

// HashPassword returns the lower-case hex SHA-256 digest of password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func normalizeAnswer(answer string) string {
	return strings.ToLower(strings.TrimSpace(answer))
}

// HashAnswer derives a salted argon2id hash of the normalized answer, encoded as "argon2id$salt$hash".
func HashAnswer(answer string) (string, error) {
	salt := make([]byte, answerSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(normalizeAnswer(answer)), salt, answerTime, answerMemory, answerThreads, answerKeyLen)

	enc := base64.RawStdEncoding
	return strings.Join([]string{answerScheme, enc.EncodeToString(salt), enc.EncodeToString(key)}, "$"), nil
}

// VerifyAnswer checks answer against a value produced by [HashAnswer].
func VerifyAnswer(answer, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 3 || parts[0] != answerScheme {
		return false
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[1])
	if err != nil {
		return false
	}
	want, err := enc.DecodeString(parts[2])
	if err != nil {
		return false
	}

	got := argon2.IDKey([]byte(normalizeAnswer(answer)), salt, answerTime, answerMemory, answerThreads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

func hashAnswers(answers [5]string) (map[string]string, error) {
	hashed := make(map[string]string, len(answers))
	for i, a := range answers {
		h, err := HashAnswer(a)
		if err != nil {
			return nil, err
		}
		hashed[fmt.Sprintf("q%d", i+1)] = h
	}
	return hashed, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Errorf("%w: %s failed on %q", shared.ErrValidation, strings.ToLower(fe.Field()), fe.Tag())
	}
	return fmt.Errorf("%w: %v", shared.ErrValidation, err)
}

// Register creates the identity and its profile row. Nothing is sent when the input is invalid.
//
// When the profile cannot be written the identity already exists; it is signed out and logged as orphaned.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)

	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	if !ValidatePassword(in.Password) {
		return nil, fmt.Errorf("%w: password does not meet requirements (min 8 chars, 1 uppercase, 1 lowercase, 1 number)", shared.ErrValidation)
	}

	answers, err := hashAnswers(in.Answers)
	if err != nil {
		return nil, err
	}

	identity, err := e.identity.SignUp(ctx, services.SignUpRequest{
		Email:    in.Email,
		Password: in.Password,
		Metadata: map[string]any{"name": in.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", shared.ErrAuth, err)
	}

	profile := &models.User{
		ID:              identity.UserID,
		Email:           in.Email,
		Name:            in.Name,
		PasswordHash:    HashPassword(in.Password),
		SecurityAnswers: answers,
		CreatedAt:       e.now(),
	}

	if err := e.store.Insert(ctx, models.TableUsers, profile, nil); err != nil {
		e.logger.Warn("orphaned identity: profile write failed", "user_id", identity.UserID, "email", in.Email, "error", err)
		if signOutErr := e.identity.SignOut(ctx); signOutErr != nil {
			e.logger.Warn("failed to sign out orphaned identity", "user_id", identity.UserID, "error", signOutErr)
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrProfileWrite, err)
	}

	e.logger.Info("registered", "user_id", profile.ID)
	e.sendNotice(registeredNotice())
	return profile, nil
}

func (e *Engine) fetchProfile(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := e.store.SelectSingle(ctx, services.From(models.TableUsers).Select(models.ProfileColumns...).Eq("id", userID), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// enter installs user as the signed-in identity on a fresh context and caches the session.
func (e *Engine) enter(ctx context.Context, user *models.User, identity *services.Identity) {
	e.ws.Update(func(s *State) {
		*s = State{User: user, Catalog: s.Catalog}
	})

	if e.persister != nil && identity != nil && identity.Token != nil {
		err := e.persister.SaveAuth(ctx, models.AuthSession{UserID: user.ID, Email: user.Email, Token: identity.Token})
		if err != nil {
			e.logger.Warn("failed to cache auth session", "error", err)
		}
	}
	e.persist(ctx)
}

// Login signs in, loads the profile and refreshes the catalog. Any failure leaves the workspace untouched.
func (e *Engine) Login(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: please enter email and password", shared.ErrValidation)
	}

	identity, err := e.identity.SignIn(ctx, email, password)
	if err != nil {
		e.logger.Error("login failed", "email", email, "error", err)
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
	}

	user, err := e.fetchProfile(ctx, identity.UserID)
	if err != nil {
		e.logger.Error("profile fetch failed", "user_id", identity.UserID, "error", err)
		if signOutErr := e.identity.SignOut(ctx); signOutErr != nil {
			e.logger.Warn("failed to sign out after profile fetch failure", "error", signOutErr)
		}
		return nil, fmt.Errorf("%w: %w", shared.ErrInvalidCredentials, err)
	}

	e.enter(ctx, user, identity)
	e.sendNotice(loggedInNotice(user))

	if _, err := e.ListPackages(ctx); err != nil {
		e.logger.Error("failed to load packages", "error", err)
	}
	return user, nil
}

// Logout revokes the session remotely, then resets the workspace and the local cache. A remote failure changes
// nothing.
func (e *Engine) Logout(ctx context.Context) error {
	if err := e.identity.SignOut(ctx); err != nil {
		e.logger.Error("logout failed", "error", err)
		return fmt.Errorf("%w: logout failed: %w", shared.ErrAuth, err)
	}

	e.ws.Reset()
	if e.persister != nil {
		if err := e.persister.Clear(ctx); err != nil {
			e.logger.Warn("failed to clear local state", "error", err)
		}
	}

	e.sendNotice(loggedOutNotice())
	return nil
}

// RestoreSession resumes a cached sign-in. It returns (nil, nil) and leaves the workspace anonymous when there is
// no usable session.
func (e *Engine) RestoreSession(ctx context.Context) (*models.User, error) {
	if e.persister == nil {
		e.ws.Reset()
		return nil, nil
	}

	stored, err := e.persister.LoadAuth(ctx)
	if err != nil {
		e.logger.Warn("failed to read cached session", "error", err)
	}
	if stored == nil {
		e.ws.Reset()
		return nil, nil
	}

	identity, err := e.identity.Resume(ctx, stored.Token)
	if err != nil {
		e.logger.Info("cached session is no longer valid", "user_id", stored.UserID, "error", err)
		e.ws.Reset()
		if clearErr := e.persister.Clear(ctx); clearErr != nil {
			e.logger.Warn("failed to clear local state", "error", clearErr)
		}
		return nil, nil
	}

	user, err := e.fetchProfile(ctx, identity.UserID)
	if err != nil {
		e.logger.Error("failed to load user profile", "user_id", identity.UserID, "error", err)
		e.ws.Reset()
		return nil, fmt.Errorf("%w: failed to load user profile, please log in again: %w", shared.ErrNotFound, err)
	}

	snapshot, err := e.persister.LoadSnapshot(ctx)
	if err != nil {
		e.logger.Warn("failed to read cached workspace", "error", err)
	}
	if snapshot != nil && snapshot.User != nil && snapshot.User.ID == user.ID {
		e.ws.Restore(*snapshot)
		e.ws.Update(func(s *State) { s.User = user })
		if identity.Token != nil {
			if err := e.persister.SaveAuth(ctx, models.AuthSession{UserID: user.ID, Email: user.Email, Token: identity.Token}); err != nil {
				e.logger.Warn("failed to cache auth session", "error", err)
			}
		}
	} else {
		e.enter(ctx, user, identity)
	}

	e.sendNotice(loggedInNotice(user))
	if _, err := e.ListPackages(ctx); err != nil {
		e.logger.Error("failed to load packages", "error", err)
	}
	return user, nil
}
