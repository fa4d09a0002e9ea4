package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
	"github.com/urfave/cli/v3"
)

// securityQuestions are asked at registration; answers are stored hashed under q1..q5.
var securityQuestions = [5]string{
	"What was the name of your first school?",
	"In what city were you born?",
	"What is your mother's maiden name?",
	"What was the make of your first car?",
	"What was the name of your first pet?",
}

// flagOrPrompt returns the flag value or asks for it on the runner's input.
func (r *Runner) flagOrPrompt(cmd *cli.Command, name, prompt string, secret bool) (string, error) {
	if v := cmd.String(name); v != "" {
		return v, nil
	}
	if secret {
		return r.readSecret(prompt)
	}
	return r.readLine(prompt)
}

// AuthRegister creates an account and its profile row.
func (r *Runner) AuthRegister(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	var in tasks.RegisterInput
	if in.Name, err = r.flagOrPrompt(cmd, "name", "Name: ", false); err != nil {
		return err
	}
	if in.Email, err = r.flagOrPrompt(cmd, "email", "Email: ", false); err != nil {
		return err
	}
	if in.Password, err = r.flagOrPrompt(cmd, "password", "Password: ", true); err != nil {
		return err
	}
	if !tasks.ValidatePassword(in.Password) {
		return fmt.Errorf("%w: password must be at least 8 characters with an uppercase letter, a lowercase letter and a digit", shared.ErrValidation)
	}

	answers := cmd.StringSlice("answer")
	for i, q := range securityQuestions {
		if i < len(answers) && answers[i] != "" {
			in.Answers[i] = answers[i]
			continue
		}
		if in.Answers[i], err = r.readLine(q + " "); err != nil {
			return err
		}
	}

	user, err := engine.Register(ctx, in)
	if err != nil {
		return err
	}
	r.report()

	r.writePlain("Account: %s <%s>\n", user.Name, user.Email)
	r.writePlainln("Next steps:")
	r.writePlain("1. Confirm the address from the verification email\n")
	r.writePlain("2. Run 'rehearse auth login --email %s'\n", user.Email)
	return nil
}

// AuthLogin signs in and caches the session locally.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	email, err := r.flagOrPrompt(cmd, "email", "Email: ", false)
	if err != nil {
		return err
	}
	password, err := r.flagOrPrompt(cmd, "password", "Password: ", true)
	if err != nil {
		return err
	}

	if _, err := engine.Login(ctx, email, password); err != nil {
		return err
	}
	r.report()
	return nil
}

// AuthLogout signs out and clears the local cache.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}
	if !engine.State().LoggedIn() {
		return r.writePlain("Not logged in\n")
	}
	if err := engine.Logout(ctx); err != nil {
		return err
	}
	r.report()
	return nil
}

// profileView is the part of a user printed by auth status.
type profileView struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Role    *string `json:"role,omitempty"`
	Company *string `json:"company,omitempty"`
}

func viewProfile(u *models.User) *profileView {
	if u == nil {
		return nil
	}
	return &profileView{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Company: u.Company}
}

// AuthStatus prints who is signed in and what they have selected.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	engine, err := r.connect(ctx, false)
	if err != nil {
		return err
	}

	st := engine.State()
	if cmd.Bool("json") {
		return r.writeJSON(map[string]any{
			"logged_in": st.LoggedIn(),
			"user":      viewProfile(st.User),
			"package":   st.Package,
			"voucher":   st.Voucher,
			"session":   st.Session,
		}, true)
	}

	if !st.LoggedIn() {
		return r.writePlain("✗ Not logged in\n")
	}

	r.writePlain("✓ Logged in as %s <%s>\n", st.User.Name, st.User.Email)
	if st.Package != nil {
		r.writePlain("Package: %s\n", st.Package.Name)
	}
	if st.Voucher != nil {
		r.writePlain("Voucher: %s (-%g%%)\n", st.Voucher.Code, st.Voucher.Discount)
	}
	if st.Session != nil {
		r.writePlain("Session: %s (question %d of %d)\n", st.Session.ID, min(st.Cursor+1, len(st.Questions)), len(st.Questions))
	}
	return nil
}
