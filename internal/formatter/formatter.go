// package formatter renders catalog, session and usage data as plain text, Markdown, CSV or JSON
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
)

// Format is an output format name.
type Format string

const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatCSV      Format = "csv"
	FormatJSON     Format = "json"
)

// ParseFormat accepts text, markdown (or md), csv and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return FormatText, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", shared.ErrInvalidArgument, s)
	}
}

// Price formats an amount with two decimals.
func Price(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Duration formats seconds as m:ss.
func Duration(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

func writeCSV(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	for i, r := range rows {
		if err := writer.Write(r); err != nil {
			if i == 0 {
				return nil, fmt.Errorf("failed to write CSV headers: %w", err)
			}
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return append(data, '\n'), nil
}

// PackagesToCSV renders packages with columns: ID, Name, Price, Questions
func PackagesToCSV(packages []models.Package) ([]byte, error) {
	rows := [][]string{{"ID", "Name", "Price", "Questions"}}
	for _, p := range packages {
		rows = append(rows, []string{p.ID, p.Name, Price(p.Price), strconv.Itoa(p.Questions)})
	}
	return writeCSV(rows)
}

// PackagesToMarkdown renders packages as a table.
func PackagesToMarkdown(packages []models.Package) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Packages\n\n")
	if len(packages) == 0 {
		buf.WriteString("_No packages available._\n")
		return buf.Bytes(), nil
	}

	buf.WriteString("| Name | Price | Questions | ID |\n")
	buf.WriteString("|------|------:|----------:|----|\n")
	for _, p := range packages {
		fmt.Fprintf(&buf, "| %s | %s | %d | `%s` |\n", p.Name, Price(p.Price), p.Questions, p.ID)
	}
	return buf.Bytes(), nil
}

// PackagesToText renders one numbered line per package.
func PackagesToText(packages []models.Package) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Packages: %d\n\n", len(packages))
	for i, p := range packages {
		fmt.Fprintf(&buf, "%d. %s - $%s (%d questions) [%s]\n", i+1, p.Name, Price(p.Price), p.Questions, p.ID)
	}
	return buf.Bytes(), nil
}

// RenderPackages renders packages in the given format.
func RenderPackages(f Format, packages []models.Package) ([]byte, error) {
	switch f {
	case FormatCSV:
		return PackagesToCSV(packages)
	case FormatMarkdown:
		return PackagesToMarkdown(packages)
	case FormatJSON:
		return marshalJSON(packages)
	default:
		return PackagesToText(packages)
	}
}

func optional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// usageFields lists the summary as label/value pairs in display order.
func usageFields(u *models.UsageSummary) [][2]string {
	priceOriginal := "-"
	if u.PriceOriginal != nil {
		priceOriginal = Price(*u.PriceOriginal)
	}
	feedback := "-"
	if u.AppFeedbackRating != nil {
		feedback = strconv.Itoa(*u.AppFeedbackRating)
	}

	return [][2]string{
		{"User", u.UserID},
		{"Session", u.SessionID},
		{"Package", optional(u.PackageUsed)},
		{"Package ID", optional(u.PackageID)},
		{"Questions", strconv.Itoa(u.QuestionsTotal)},
		{"Answered", strconv.Itoa(u.QuestionsAnswered)},
		{"Analyzed", strconv.Itoa(u.QuestionsAnalyzed)},
		{"Average rating", strconv.FormatFloat(u.AverageQuestionRating, 'f', 2, 64)},
		{"Video responses", strconv.Itoa(u.VideoResponsesCount)},
		{"Audio responses", strconv.Itoa(u.AudioResponsesCount)},
		{"Voucher", optional(u.VoucherUsed)},
		{"Discount", strconv.FormatFloat(u.VoucherDiscount, 'f', -1, 64) + "%"},
		{"Original price", priceOriginal},
		{"Price paid", Price(u.PricePaid)},
		{"Payment method", u.PaymentMethod},
		{"Role", u.RoleName},
		{"Company", u.CompanyName},
		{"Device", u.DeviceType},
		{"Duration", (time.Duration(u.TotalSessionDuration) * time.Millisecond).String()},
		{"Started", optionalTime(u.SessionStarted)},
		{"Completed", u.SessionCompleted.Format(time.RFC3339)},
		{"App rating", feedback},
		{"App feedback", u.AppFeedbackText},
	}
}

// UsageToCSV renders the summary as Field,Value rows.
func UsageToCSV(u *models.UsageSummary) ([]byte, error) {
	rows := [][]string{{"Field", "Value"}}
	for _, f := range usageFields(u) {
		rows = append(rows, []string{f[0], f[1]})
	}
	return writeCSV(rows)
}

// UsageToMarkdown renders the summary as a two-column table.
func UsageToMarkdown(u *models.UsageSummary) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# Session %s\n\n", u.SessionID)
	buf.WriteString("| Field | Value |\n|-------|-------|\n")
	for _, f := range usageFields(u) {
		fmt.Fprintf(&buf, "| %s | %s |\n", f[0], f[1])
	}
	return buf.Bytes(), nil
}

// UsageToText renders the summary as aligned label: value lines.
func UsageToText(u *models.UsageSummary) ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range usageFields(u) {
		fmt.Fprintf(&buf, "%-16s %s\n", f[0]+":", f[1])
	}
	return buf.Bytes(), nil
}

// RenderUsage renders a usage summary in the given format.
func RenderUsage(f Format, u *models.UsageSummary) ([]byte, error) {
	switch f {
	case FormatCSV:
		return UsageToCSV(u)
	case FormatMarkdown:
		return UsageToMarkdown(u)
	case FormatJSON:
		return marshalJSON(u)
	default:
		return UsageToText(u)
	}
}

func ratingString(r *float64) string {
	if r == nil {
		return ""
	}
	return strconv.FormatFloat(*r, 'f', -1, 64)
}

// QuestionsToCSV renders the question list with columns: Position, ID, Answered, Type, Duration, Analyzed, Rating, Recording
func QuestionsToCSV(questions []models.Question) ([]byte, error) {
	rows := [][]string{{"Position", "ID", "Answered", "Type", "Duration", "Analyzed", "Rating", "Recording"}}
	for _, q := range questions {
		var typ, duration, url string
		if q.UserResponse != nil {
			typ = string(q.UserResponse.Type)
			duration = strconv.Itoa(q.UserResponse.Duration)
			url = q.UserResponse.RecordingURL
		}
		rows = append(rows, []string{
			strconv.Itoa(q.Position),
			q.ID,
			strconv.FormatBool(q.Answered()),
			typ,
			duration,
			strconv.FormatBool(q.Analyzed),
			ratingString(q.Rating),
			url,
		})
	}
	return writeCSV(rows)
}

// QuestionsToText renders one line per question with a check mark for answered ones.
func QuestionsToText(questions []models.Question, cursor int) ([]byte, error) {
	var buf bytes.Buffer
	for i, q := range questions {
		marker := " "
		if i == cursor {
			marker = ">"
		}
		status := "[ ]"
		if q.Answered() {
			status = "[x]"
		}
		line := fmt.Sprintf("%s %s %d. %s", marker, status, q.Position, q.Prompt)
		if q.Analyzed {
			line += " (rating " + ratingString(q.Rating) + ")"
		}
		fmt.Fprintf(&buf, "%s  %s\n", line, q.ID)
	}
	return buf.Bytes(), nil
}

// SessionToMarkdown renders a session report; recordings maps question ids to local file names.
func SessionToMarkdown(s *models.Session, questions []models.Question, recordings map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# %s session\n\n", s.PackageName)
	fmt.Fprintf(&buf, "**Session**: `%s`\n", s.ID)
	fmt.Fprintf(&buf, "**Role**: %s at %s\n", s.Context.RoleName, s.Context.CompanyName)
	fmt.Fprintf(&buf, "**Price**: %s (paid %s)\n", Price(s.Price), Price(s.FinalPrice))
	if s.VoucherCode != nil {
		fmt.Fprintf(&buf, "**Voucher**: %s\n", *s.VoucherCode)
	}
	if s.CreatedAt != nil {
		fmt.Fprintf(&buf, "**Started**: %s\n", s.CreatedAt.Format(time.RFC3339))
	}

	buf.WriteString("\n## Questions\n\n")
	for _, q := range questions {
		fmt.Fprintf(&buf, "%d. %s", q.Position, q.Prompt)
		if r := q.UserResponse; r != nil {
			fmt.Fprintf(&buf, " - %s [%s]", r.Type, Duration(r.Duration))
			if file, ok := recordings[q.ID]; ok {
				fmt.Fprintf(&buf, " ([recording](%s))", file)
			} else if r.RecordingURL != "" {
				fmt.Fprintf(&buf, " ([recording](%s))", r.RecordingURL)
			}
		} else {
			buf.WriteString(" - not answered")
		}
		if q.Analyzed {
			fmt.Fprintf(&buf, " - rating %s", ratingString(q.Rating))
		}
		buf.WriteString("\n")
	}
	return buf.Bytes(), nil
}

var downloadClient = &http.Client{Timeout: 30 * time.Second}

// DownloadRecording fetches a recording from its public URL and returns the raw bytes
func DownloadRecording(url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("empty URL provided")
	}

	resp, err := downloadClient.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to download recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download recording: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording data: %w", err)
	}
	return data, nil
}

// CSVExportResult contains the paths of files created by WriteCSVExport
type CSVExportResult struct {
	QuestionsFile string
	SessionFile   string
}

// WriteCSVExport writes the question list and session metadata.
//
// Defaults to the session ID as the base filename & creates {base}_questions.csv and {base}_session.json
func WriteCSVExport(s *models.Session, questions []models.Question, baseFilepath string) (*CSVExportResult, error) {
	if baseFilepath == "" {
		baseFilepath = s.ID
	}

	csvData, err := QuestionsToCSV(questions)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CSV: %w", err)
	}

	questionsFile := baseFilepath + "_questions.csv"
	if err := os.WriteFile(questionsFile, csvData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write CSV file: %w", err)
	}

	sessionJSON, err := marshalJSON(s)
	if err != nil {
		return nil, fmt.Errorf("failed to generate session JSON: %w", err)
	}

	sessionFile := baseFilepath + "_session.json"
	if err := os.WriteFile(sessionFile, sessionJSON, 0644); err != nil {
		return nil, fmt.Errorf("failed to write session file: %w", err)
	}

	return &CSVExportResult{QuestionsFile: questionsFile, SessionFile: sessionFile}, nil
}

// MarkdownExportResult contains information about files created by WriteMarkdownExport
type MarkdownExportResult struct {
	Directory  string
	Files      []string
	Recordings []string
}

// WriteMarkdownExport writes a session report into a dedicated directory.
//
// Directory name defaults to the session ID. With download set, answered recordings are fetched into
// {dir}/recordings/{questionID}.webm and linked locally; a failed download falls back to the public URL.
func WriteMarkdownExport(s *models.Session, questions []models.Question, outputDir string, download bool) (*MarkdownExportResult, error) {
	if outputDir == "" {
		outputDir = s.ID
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	result := &MarkdownExportResult{Directory: outputDir, Files: []string{}}
	local := map[string]string{}

	if download {
		recordingsDir := filepath.Join(outputDir, "recordings")
		for _, q := range questions {
			if q.UserResponse == nil || q.UserResponse.RecordingURL == "" {
				continue
			}
			data, err := DownloadRecording(q.UserResponse.RecordingURL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to download recording for %s: %v\n", q.ID, err)
				continue
			}
			if err := os.MkdirAll(recordingsDir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
			path := filepath.Join(recordingsDir, q.ID+".webm")
			if err := os.WriteFile(path, data, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to save recording for %s: %v\n", q.ID, err)
				continue
			}
			local[q.ID] = "recordings/" + q.ID + ".webm"
			result.Recordings = append(result.Recordings, path)
			result.Files = append(result.Files, path)
		}
	}

	mdData, err := SessionToMarkdown(s, questions, local)
	if err != nil {
		return nil, fmt.Errorf("failed to generate Markdown: %w", err)
	}

	mdFile := filepath.Join(outputDir, "README.md")
	if err := os.WriteFile(mdFile, mdData, 0644); err != nil {
		return nil, fmt.Errorf("failed to write Markdown file: %w", err)
	}
	result.Files = append(result.Files, mdFile)

	return result, nil
}

// WriteTextExport writes the question list as plain text.
//
// Defaults to {session.ID}_questions.txt as the filename.
func WriteTextExport(s *models.Session, questions []models.Question, path string) (string, error) {
	if path == "" {
		path = fmt.Sprintf("%s_questions.txt", s.ID)
	}

	textData, err := QuestionsToText(questions, -1)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	if err := os.WriteFile(path, textData, 0644); err != nil {
		return "", fmt.Errorf("failed to write text file: %w", err)
	}
	return path, nil
}
