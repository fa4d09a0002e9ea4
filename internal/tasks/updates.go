package tasks

import (
	"fmt"

	"github.com/desertthunder/rehearse/internal/models"
)

// Notice is a user-facing success message emitted by a workflow.
//
// Failures are never sent as notices; they are returned as errors.
type Notice struct {
	Kind    NoticeKind // Workflow that produced the notice
	Level   string     // "success" or "info"
	Message string     // Human-readable message for display
	Data    any        // Optional workflow result for advanced UIs
}

// NoticeKind enumerates the workflows that emit notices.
type NoticeKind int

const (
	Registered NoticeKind = iota
	LoggedIn
	LoggedOut
	PackageSelected
	VoucherApplied
	SessionCreated
	ResponseSaved
	AnalysisSaved
	FeedbackSaved
	UsageSaved
	CatalogChanged
	VoucherChanged
)

func (k NoticeKind) String() string {
	switch k {
	case Registered:
		return "registered"
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	case PackageSelected:
		return "package_selected"
	case VoucherApplied:
		return "voucher_applied"
	case SessionCreated:
		return "session_created"
	case ResponseSaved:
		return "response_saved"
	case AnalysisSaved:
		return "analysis_saved"
	case FeedbackSaved:
		return "feedback_saved"
	case UsageSaved:
		return "usage_saved"
	case CatalogChanged:
		return "catalog_changed"
	case VoucherChanged:
		return "voucher_changed"
	default:
		return ""
	}
}

func registeredNotice() Notice {
	return Notice{
		Kind:    Registered,
		Level:   "success",
		Message: "Registration successful! Please check your email to verify your account.",
	}
}

func loggedInNotice(u *models.User) Notice {
	return Notice{
		Kind:    LoggedIn,
		Level:   "success",
		Message: fmt.Sprintf("Welcome back, %s!", u.Name),
		Data:    u,
	}
}

func loggedOutNotice() Notice {
	return Notice{Kind: LoggedOut, Level: "info", Message: "Logged out successfully."}
}

func packageSelectedNotice(p *models.Package) Notice {
	return Notice{
		Kind:    PackageSelected,
		Level:   "info",
		Message: fmt.Sprintf("Package %q selected.", p.Name),
		Data:    p,
	}
}

func voucherAppliedNotice(v *models.Voucher) Notice {
	return Notice{
		Kind:    VoucherApplied,
		Level:   "success",
		Message: fmt.Sprintf("Voucher %q applied! You get %g%% off.", v.Code, v.Discount),
		Data:    v,
	}
}

func sessionCreatedNotice(s *models.Session) Notice {
	return Notice{Kind: SessionCreated, Level: "success", Message: "Session created successfully!", Data: s}
}

func responseSavedNotice(r *models.Response) Notice {
	return Notice{Kind: ResponseSaved, Level: "success", Message: "Response saved successfully!", Data: r}
}

func analysisSavedNotice(questionID string) Notice {
	return Notice{Kind: AnalysisSaved, Level: "success", Message: "Analysis saved successfully!", Data: questionID}
}

func feedbackSavedNotice() Notice {
	return Notice{Kind: FeedbackSaved, Level: "success", Message: "Feedback submitted successfully!"}
}

func usageSavedNotice(u *models.UsageSummary) Notice {
	return Notice{Kind: UsageSaved, Level: "info", Message: "Usage data saved successfully!", Data: u}
}

func catalogChangedNotice(catalog []models.Package) Notice {
	return Notice{
		Kind:    CatalogChanged,
		Level:   "info",
		Message: fmt.Sprintf("Package catalog updated (%d packages)", len(catalog)),
		Data:    catalog,
	}
}

func voucherChangedNotice(eventType string) Notice {
	return Notice{Kind: VoucherChanged, Level: "info", Message: fmt.Sprintf("Voucher changed (%s)", eventType)}
}
