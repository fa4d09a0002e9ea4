package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

const (
	paymentPlaceholder = "/* Placeholder for actual payment details */"
	sessionStatusPaid  = "paid"
	defaultRoleName    = "user"
	defaultCompanyName = "N/A"
)

func sessionContext(u *models.User) models.SessionContext {
	ctx := models.SessionContext{RoleName: defaultRoleName, CompanyName: defaultCompanyName}
	if u.Role != nil && *u.Role != "" {
		ctx.RoleName = *u.Role
	}
	if u.Company != nil && *u.Company != "" {
		ctx.CompanyName = *u.Company
	}
	return ctx
}

// seedQuestions creates n empty question slots for a session.
func seedQuestions(sessionID string, n int) []models.Question {
	questions := make([]models.Question, 0, n)
	for i := range n {
		questions = append(questions, models.Question{
			ID:        shared.GenerateID(),
			SessionID: sessionID,
			Position:  i + 1,
			Prompt:    fmt.Sprintf("Question %d of %d", i+1, n),
		})
	}
	return questions
}

// CreateSession writes a paid session for the selected package and makes it active.
func (e *Engine) CreateSession(ctx context.Context) (*models.Session, error) {
	st := e.ws.Snapshot()
	if st.User == nil || st.Package == nil {
		return nil, shared.ErrPrecondition
	}

	row := models.Session{
		UserID:         st.User.ID,
		PackageID:      st.Package.ID,
		PackageName:    st.Package.Name,
		QuestionsCount: st.Package.Questions,
		Price:          st.Package.Price,
		FinalPrice:     FinalPrice(st.Package, st.Voucher),
		PaymentDetails: paymentPlaceholder,
		Context:        sessionContext(st.User),
		Status:         sessionStatusPaid,
	}
	if st.Voucher != nil {
		code := st.Voucher.Code
		row.VoucherCode = &code
	}

	var created models.Session
	if err := e.store.Insert(ctx, models.TableSessions, row, &created); err != nil {
		e.logger.Error("error creating session", "package_id", row.PackageID, "error", err)
		return nil, fmt.Errorf("%w: %w", shared.ErrSessionCreate, err)
	}

	questions := seedQuestions(created.ID, created.QuestionsCount)
	e.ws.Update(func(s *State) {
		s.Session = &created
		s.Questions = questions
		s.Cursor = 0
	})
	e.persist(ctx)

	e.logger.Info("session created", "session_id", created.ID, "final_price", created.FinalPrice)
	e.sendNotice(sessionCreatedNotice(&created))
	return &created, nil
}

// Questions returns the active session's question list.
func (e *Engine) Questions() []models.Question {
	return e.ws.Snapshot().Questions
}

// CurrentQuestion returns the question under the cursor.
func (e *Engine) CurrentQuestion() (*models.Question, error) {
	st := e.ws.Snapshot()
	if st.Session == nil {
		return nil, fmt.Errorf("%w: no active session", shared.ErrPrecondition)
	}
	if st.Cursor >= len(st.Questions) {
		return nil, fmt.Errorf("%w: no questions left in this session", shared.ErrNotFound)
	}
	q := st.Questions[st.Cursor]
	return &q, nil
}

// AdvanceQuestion moves the cursor forward and returns the new current question. Past the last question it
// returns ErrNotFound and the cursor stays at the end.
func (e *Engine) AdvanceQuestion(ctx context.Context) (*models.Question, error) {
	st := e.ws.Snapshot()
	if st.Session == nil {
		return nil, fmt.Errorf("%w: no active session", shared.ErrPrecondition)
	}

	e.ws.Update(func(s *State) {
		if s.Cursor < len(s.Questions) {
			s.Cursor++
		}
	})
	e.persist(ctx)
	return e.CurrentQuestion()
}

func questionIndex(questions []models.Question, id string) int {
	for i, q := range questions {
		if q.ID == id {
			return i
		}
	}
	return -1
}
