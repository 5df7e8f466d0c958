// Package domain holds the value types shared by every stage of the
// analysis-to-report pipeline.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sex is the patient's recorded sex.
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// ParseSex accepts the form values case-insensitively.
func ParseSex(value string) (Sex, error) {
	switch Sex(strings.ToLower(strings.TrimSpace(value))) {
	case SexMale:
		return SexMale, nil
	case SexFemale:
		return SexFemale, nil
	case SexOther:
		return SexOther, nil
	}
	return "", fmt.Errorf("invalid sex %q: expected male, female or other", value)
}

// Title returns the display form used in reports.
func (s Sex) Title() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// PatientRecord is built from form input and lives for one request.
type PatientRecord struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
	Sex  Sex    `json:"sex"`
}

// Validate reports the first missing or invalid field.
func (p PatientRecord) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("patient name is required")
	}
	if p.Age <= 0 {
		return fmt.Errorf("patient age must be positive, got %d", p.Age)
	}
	if _, err := ParseSex(string(p.Sex)); err != nil {
		return err
	}
	return nil
}

// Blob namespaces.
const (
	NamespaceImages  = "images"
	NamespaceReports = "reports"
)

// BlobRef addresses one blob in the store.
type BlobRef struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
}

func (r BlobRef) String() string {
	return r.Namespace + "/" + r.Key
}

// UploadedImage is the stored upload. Consumers re-read the bytes through Ref.
type UploadedImage struct {
	ID       string  `json:"id"`
	Ref      BlobRef `json:"ref"`
	Filename string  `json:"filename"`
	Format   string  `json:"format"`
	Size     int64   `json:"size"`
}

// Label is the normalized classifier verdict.
type Label string

const (
	LabelTumor   Label = "tumor"
	LabelNoTumor Label = "no_tumor"
)

// DisplayName is the human-readable verdict printed in reports.
func (l Label) DisplayName() string {
	if l == LabelTumor {
		return "Yes Brain Tumor"
	}
	return "No Brain Tumor"
}

// ClassificationResult is produced once per image. Confidence is nil when the
// classifier did not supply one.
type ClassificationResult struct {
	Label      Label    `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
	Demo       bool     `json:"demo"`
	Source     string   `json:"source"`
}

type Severity string

const (
	SeverityHigh Severity = "high"
	SeverityLow  Severity = "low"
)

type ActionWindow string

const (
	WithinOneMonth    ActionWindow = "within_1_month"
	WithinThreeMonths ActionWindow = "within_3_months"
	WithinSixMonths   ActionWindow = "within_6_months"
)

// Phrase renders the window the way the report prints it.
func (w ActionWindow) Phrase() string {
	switch w {
	case WithinOneMonth:
		return "within 1 month"
	case WithinThreeMonths:
		return "within 3 months"
	case WithinSixMonths:
		return "within 6 months"
	}
	return string(w)
}

// TumorAttributes exist only for positive classifications.
// Severity is high iff SizeCM > 3.0.
type TumorAttributes struct {
	SizeCM         float64      `json:"size_cm"`
	Severity       Severity     `json:"severity"`
	PrognosisYears float64      `json:"prognosis_years"`
	ActionWindow   ActionWindow `json:"recommended_action_window"`
}

// Report is written once per completed run. ID equals Ref.Key.
type Report struct {
	ID             string               `json:"id"`
	Patient        PatientRecord        `json:"patient"`
	Classification ClassificationResult `json:"classification"`
	Attributes     *TumorAttributes     `json:"attributes,omitempty"`
	Ref            BlobRef              `json:"ref"`
	ImageRef       BlobRef              `json:"image_ref"`
	CreatedAt      time.Time            `json:"created_at"`
	Demo           bool                 `json:"demo"`
}
