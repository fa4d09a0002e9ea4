package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

const (
	defaultFeedbackText = "No additional comments provided"
	paymentFree         = "Free"
	paymentPayPal       = "PayPal"
)

// FeedbackInput is an app rating with optional comments.
type FeedbackInput struct {
	Rating int `validate:"min=1,max=5"`
	Text   string
}

// AverageRating is the mean of the rated questions, 0 when none are rated.
func AverageRating(questions []models.Question) float64 {
	var (
		sum float64
		n   int
	)
	for _, q := range questions {
		if q.Rating == nil {
			continue
		}
		sum += *q.Rating
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// AverageRating is the mean rating over the active session's questions.
func (e *Engine) AverageRating() float64 {
	return AverageRating(e.ws.Snapshot().Questions)
}

// BuildUsageSummary flattens the workspace into a usage row. It reads nothing but st.
func BuildUsageSummary(st State, userAgent string, now time.Time) (*models.UsageSummary, error) {
	if st.User == nil || st.Session == nil {
		return nil, fmt.Errorf("%w: user not logged in or session not active", shared.ErrPrecondition)
	}

	u := &models.UsageSummary{
		UserID:                st.User.ID,
		SessionID:             st.Session.ID,
		QuestionsTotal:        len(st.Questions),
		RoleName:              st.Session.Context.RoleName,
		CompanyName:           st.Session.Context.CompanyName,
		AverageQuestionRating: AverageRating(st.Questions),
		AppFeedbackText:       defaultFeedbackText,
		PricePaid:             st.Session.FinalPrice,
		PaymentMethod:         paymentPayPal,
		DeviceType:            shared.DeviceType(userAgent),
		SessionStarted:        st.Session.CreatedAt,
		SessionCompleted:      now,
	}

	if st.Package != nil {
		name, id, price := st.Package.Name, st.Package.ID, st.Package.Price
		u.PackageUsed, u.PackageID, u.PriceOriginal = &name, &id, &price
	}
	if st.Voucher != nil {
		code := st.Voucher.Code
		u.VoucherUsed = &code
		u.VoucherDiscount = st.Voucher.Discount
	}
	if st.Session.FinalPrice == 0 {
		u.PaymentMethod = paymentFree
	}
	if st.Session.CreatedAt != nil {
		u.TotalSessionDuration = now.Sub(*st.Session.CreatedAt).Milliseconds()
	}

	for _, q := range st.Questions {
		if q.Analyzed {
			u.QuestionsAnalyzed++
		}
		if q.UserResponse == nil {
			continue
		}
		u.QuestionsAnswered++
		switch q.UserResponse.Type {
		case models.RecordingVideo:
			u.VideoResponsesCount++
		case models.RecordingAudio:
			u.AudioResponsesCount++
		}
	}
	return u, nil
}

// SaveUsageData writes the usage row for the active session.
func (e *Engine) SaveUsageData(ctx context.Context) (*models.UsageSummary, error) {
	summary, err := BuildUsageSummary(e.ws.Snapshot(), e.userAgent, e.now())
	if err != nil {
		return nil, err
	}

	if err := e.store.Insert(ctx, models.TableUsage, summary, nil); err != nil {
		e.logger.Error("error saving usage data", "session_id", summary.SessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", shared.ErrPersist, err)
	}

	e.sendNotice(usageSavedNotice(summary))
	return summary, nil
}

// SaveFeedbackData writes an app rating for the active session. Empty text is replaced by a placeholder.
func (e *Engine) SaveFeedbackData(ctx context.Context, in FeedbackInput) (*models.Feedback, error) {
	st := e.ws.Snapshot()
	if st.User == nil || st.Session == nil {
		return nil, fmt.Errorf("%w: user not logged in or session not active", shared.ErrPrecondition)
	}
	if err := validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	text := strings.TrimSpace(in.Text)
	if text == "" {
		text = defaultFeedbackText
	}

	row := &models.Feedback{
		SessionID:    st.Session.ID,
		UserID:       st.User.ID,
		Rating:       in.Rating,
		FeedbackText: text,
		SubmittedAt:  e.now(),
	}
	if err := e.store.Insert(ctx, models.TableFeedback, row, nil); err != nil {
		e.logger.Error("error saving feedback", "session_id", row.SessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", shared.ErrPersist, err)
	}

	e.sendNotice(feedbackSavedNotice())
	return row, nil
}
