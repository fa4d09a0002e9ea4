// package models defines the data model for the interview practice client
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Table names on the backend.
const (
	TableUsers     = "users"
	TablePackages  = "packages"
	TableVouchers  = "vouchers"
	TableSessions  = "sessions"
	TableResponses = "responses"
	TableFeedback  = "feedback"
	TableUsage     = "usage_data"
)

// Record is a row of a backend table.
type Record interface {
	Table() string
}

// RecordingType is the media kind of a recorded answer.
type RecordingType string

const (
	RecordingAudio RecordingType = "audio"
	RecordingVideo RecordingType = "video"
)

// ParseRecordingType validates a user supplied recording type.
func ParseRecordingType(s string) (RecordingType, error) {
	switch RecordingType(s) {
	case RecordingAudio, RecordingVideo:
		return RecordingType(s), nil
	default:
		return "", fmt.Errorf("unknown recording type %q", s)
	}
}

// ContentType is the MIME type a recording of this kind is stored with.
func (t RecordingType) ContentType() string {
	if t == RecordingVideo {
		return "video/webm"
	}
	return "audio/webm"
}

// User is the profile row created at registration.
//
// SecurityAnswers holds salted one-way hashes keyed q1..q5.
type User struct {
	ID              string            `json:"id"`
	Email           string            `json:"email"`
	Name            string            `json:"name"`
	PasswordHash    string            `json:"password_hash"`
	SecurityAnswers map[string]string `json:"security_answers"`
	Role            *string           `json:"role,omitempty"`
	Company         *string           `json:"company,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (User) Table() string { return TableUsers }

// ProfileColumns are the users columns read back into a signed-in context. The password hash and security
// answers stay on the server.
var ProfileColumns = []string{"id", "email", "name", "role", "company", "created_at"}

// Package is a purchasable bundle of practice questions.
type Package struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Questions int     `json:"questions"`
	Active    bool    `json:"active"`
}

func (Package) Table() string { return TablePackages }

// Voucher is a percentage discount (0-100) redeemable against a package price.
type Voucher struct {
	Code     string  `json:"code"`
	Discount float64 `json:"discount"`
	Active   bool    `json:"active"`
}

func (Voucher) Table() string { return TableVouchers }

// SessionContext is the free-form interview context stored with a session.
type SessionContext struct {
	RoleName    string `json:"roleName"`
	CompanyName string `json:"CompanyName"`
}

// Session is a paid practice session.
//
// ID and CreatedAt are assigned by the backend.
type Session struct {
	ID             string         `json:"id,omitempty"`
	UserID         string         `json:"user_id"`
	PackageID      string         `json:"package_id"`
	PackageName    string         `json:"package_name"`
	QuestionsCount int            `json:"questions_count"`
	Price          float64        `json:"price"`
	FinalPrice     float64        `json:"final_price"`
	VoucherCode    *string        `json:"voucher_code,omitempty"`
	PaymentDetails string         `json:"payment_details"`
	Context        SessionContext `json:"context"`
	Status         string         `json:"status"`
	CreatedAt      *time.Time     `json:"created_at,omitempty"`
}

func (Session) Table() string { return TableSessions }

// Analysis is the opaque evaluation payload attached to a response.
type Analysis map[string]any

// OverallRating extracts the numeric "overallRating" field, if present.
func (a Analysis) OverallRating() *float64 {
	v, ok := a["overallRating"]
	if !ok || v == nil {
		return nil
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	return &f
}

// Response is a recorded answer to one question.
type Response struct {
	ID            string        `json:"id,omitempty"`
	QuestionID    string        `json:"question_id"`
	RecordingType RecordingType `json:"recording_type"`
	Duration      int           `json:"duration"`
	RecordingURL  string        `json:"recording_url"`
	RecordedAt    time.Time     `json:"recorded_at"`
	Analyzed      bool          `json:"analyzed,omitempty"`
	Analysis      Analysis      `json:"analysis,omitempty"`
	Rating        *float64      `json:"rating,omitempty"`
	UpdatedAt     *time.Time    `json:"updated_at,omitempty"`
}

func (Response) Table() string { return TableResponses }

// AnalysisUpdate is the patch applied to responses when an analysis arrives.
type AnalysisUpdate struct {
	Analyzed  bool      `json:"analyzed"`
	Analysis  Analysis  `json:"analysis"`
	Rating    *float64  `json:"rating"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Feedback is the app rating a user submits for a session.
type Feedback struct {
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Rating       int       `json:"rating"`
	FeedbackText string    `json:"feedback_text"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

func (Feedback) Table() string { return TableFeedback }

// UsageSummary is the flattened telemetry snapshot written once per completed session.
type UsageSummary struct {
	UserID                string     `json:"user_id"`
	SessionID             string     `json:"session_id"`
	PackageUsed           *string    `json:"package_used"`
	PackageID             *string    `json:"package_id"`
	QuestionsTotal        int        `json:"questions_total"`
	QuestionsAnswered     int        `json:"questions_answered"`
	QuestionsAnalyzed     int        `json:"questions_analyzed"`
	VoucherUsed           *string    `json:"voucher_used"`
	VoucherDiscount       float64    `json:"voucher_discount"`
	RoleName              string     `json:"role_name"`
	CompanyName           string     `json:"company_name"`
	AverageQuestionRating float64    `json:"average_question_rating"`
	TotalSessionDuration  int64      `json:"total_session_duration"`
	VideoResponsesCount   int        `json:"video_responses_count"`
	AudioResponsesCount   int        `json:"audio_responses_count"`
	AppFeedbackRating     *int       `json:"app_feedback_rating"`
	AppFeedbackText       string     `json:"app_feedback_text"`
	PriceOriginal         *float64   `json:"price_original"`
	PricePaid             float64    `json:"price_paid"`
	PaymentMethod         string     `json:"payment_method"`
	DeviceType            string     `json:"device_type"`
	SessionStarted        *time.Time `json:"session_started"`
	SessionCompleted      time.Time  `json:"session_completed"`
}

func (UsageSummary) Table() string { return TableUsage }

// RecordedAnswer is what the user submitted for a question.
type RecordedAnswer struct {
	Type         RecordingType `json:"type"`
	Duration     int           `json:"duration"`
	RecordingURL string        `json:"recording_url"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// Question is a slot in the active session's question list.
type Question struct {
	ID           string          `json:"id"`
	SessionID    string          `json:"session_id"`
	Position     int             `json:"position"`
	Prompt       string          `json:"prompt"`
	UserResponse *RecordedAnswer `json:"user_response,omitempty"`
	Analyzed     bool            `json:"analyzed"`
	Rating       *float64        `json:"rating,omitempty"`
}

// Answered reports whether a recording has been saved for the question.
func (q Question) Answered() bool { return q.UserResponse != nil }
