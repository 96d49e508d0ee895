package verification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/JonasWeber/AgeGuard/app/models"
	"github.com/JonasWeber/AgeGuard/app/repository"
	"github.com/JonasWeber/AgeGuard/internal/pkg/agecheck"
	"github.com/JonasWeber/AgeGuard/internal/pkg/env"
)

// TextExtractor is the opaque OCR capability. The adapter only cares about
// the recognized text, not how it was produced.
type TextExtractor interface {
	Extract(ctx context.Context, image []byte) (string, error)
}

// OCRClient sends document images to an external text extraction service.
type OCRClient struct {
	APIBaseURL string
	APIKey     string
	HTTPClient *http.Client
}

// NewOCRClientFromEnv builds the OCR client from environment settings.
func NewOCRClientFromEnv() *OCRClient {
	return &OCRClient{
		APIBaseURL: strings.TrimSpace(env.GetEnv("OCR_API_BASE_URL", "")),
		APIKey:     strings.TrimSpace(env.GetEnv("OCR_API_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Extract uploads the image and returns the recognized text.
func (c *OCRClient) Extract(ctx context.Context, image []byte) (string, error) {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return "", errors.New("OCR_API_BASE_URL is not configured")
	}
	if len(image) == 0 {
		return "", errors.New("document image is empty")
	}

	u := strings.TrimRight(c.APIBaseURL, "/") + "/extract"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(image))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("text extraction failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

var (
	// Explicit day.month.year dates as printed on identity documents.
	explicitDatePattern = regexp.MustCompile(`\b(\d{2})\.(\d{2})\.(\d{4})\b`)
	// National-ID style codes: the first six digits encode yymmdd, the
	// month carries an offset of 50 in the encoding used for women.
	nationalIDPattern = regexp.MustCompile(`\b(\d{2})(\d{2})(\d{2})\s*/\s*(\d{3,4})\b`)
)

// BirthDateMatch is a birth date located in extracted document text.
type BirthDateMatch struct {
	Date time.Time
	// AlternateEncoding is true when the national-ID month offset for the
	// second sex encoding was present.
	AlternateEncoding bool
}

// ExtractBirthDate locates a birth date in OCR text. Two textual patterns
// are accepted: an explicit dd.mm.yyyy date, or a national-ID code whose
// first six digits encode year/month/day with a month offset of 50 for the
// alternate encoding. The explicit form wins when both are present.
func ExtractBirthDate(text string, now time.Time) (*BirthDateMatch, bool) {
	if m := explicitDatePattern.FindStringSubmatch(text); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if date, ok := buildDate(year, month, day); ok {
			return &BirthDateMatch{Date: date}, true
		}
	}

	if m := nationalIDPattern.FindStringSubmatch(text); m != nil {
		yy, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])

		alternate := false
		if month > 50 {
			month -= 50
			alternate = true
		}

		// Two-digit years pivot on the current year: codes "in the
		// future" belong to the previous century.
		year := 2000 + yy
		if year > now.Year() {
			year -= 100
		}

		if date, ok := buildDate(year, month, day); ok {
			return &BirthDateMatch{Date: date, AlternateEncoding: alternate}, true
		}
	}

	return nil, false
}

// buildDate validates calendar bounds; regexes alone accept day 99.
func buildDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// Reject normalized overflow like 31.02.
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}
	return date, true
}

// OCRAdapter verifies age from a photographed identity document.
type OCRAdapter struct {
	records   repository.RecordRepository
	extractor TextExtractor
	decider   agecheck.Config
	now       func() time.Time
}

func NewOCRAdapter(records repository.RecordRepository, extractor TextExtractor, decider agecheck.Config) *OCRAdapter {
	return &OCRAdapter{records: records, extractor: extractor, decider: decider, now: time.Now}
}

func (a *OCRAdapter) Method() models.VerificationMethod {
	return models.MethodOCR
}

// Initiate creates the pending record; evidence arrives with resolve.
func (a *OCRAdapter) Initiate(ctx context.Context, shop *models.Shop, in StartInput) (*StartResult, error) {
	_ = ctx
	record, err := newPendingRecord(a.records, shop, models.MethodOCR, in.UserIdentifier)
	if err != nil {
		return nil, err
	}
	return &StartResult{Record: record}, nil
}

// Resolve runs text extraction over the document image and classifies the
// attempt. Success requires both a working extraction and a located birth
// date; anything else resolves terminally with a human-readable reason.
func (a *OCRAdapter) Resolve(ctx context.Context, record *models.VerificationRecord, ev Evidence) (*ResolveResult, error) {
	if record.IsTerminal() {
		return &ResolveResult{Record: record, Done: true, AlreadyTerminal: true}, nil
	}
	if len(ev.DocumentImage) == 0 {
		return nil, ErrEvidenceInvalid
	}

	text, err := a.extractor.Extract(ctx, ev.DocumentImage)
	if err != nil {
		log.Errorf("[OCR] Extraction failed for record %s: %v", record.UUID, err)
		completed, cerr := a.records.Complete(record.ID, models.RecordStatusError, models.ResultError,
			"text extraction failed")
		if cerr != nil {
			return nil, cerr
		}
		return &ResolveResult{Record: completed, Done: true}, nil
	}

	match, found := ExtractBirthDate(text, a.now())
	if !found {
		completed, cerr := a.records.Complete(record.ID, models.RecordStatusCompleted, models.ResultFailure,
			"no birth date found")
		if cerr != nil {
			return nil, cerr
		}
		return &ResolveResult{Record: completed, Done: true}, nil
	}

	age := agecheck.AgeAt(match.Date, a.now())
	verdict := a.decider.Decide(age)

	result := models.ResultFailure
	if verdict == agecheck.VerdictApproved {
		result = models.ResultSuccess
	}
	completed, err := a.records.Complete(record.ID, models.RecordStatusCompleted, result,
		fmt.Sprintf("document confirmed age %d", age))
	if err != nil {
		return nil, err
	}

	return &ResolveResult{Record: completed, Verdict: verdict, Age: &age, Done: true}, nil
}
