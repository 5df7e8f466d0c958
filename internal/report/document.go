package report

import (
	"fmt"
	"strconv"
	"time"

	"github.com/example/tumor-report/internal/domain"
)

// Section headings, in print order.
const (
	HeadingPatient         = "PATIENT INFORMATION"
	HeadingResults         = "ANALYSIS RESULTS"
	HeadingCharacteristics = "TUMOR CHARACTERISTICS"
	HeadingRecommendations = "MEDICAL RECOMMENDATIONS"
	HeadingDisclaimer      = "DISCLAIMER"

	Title = "BRAIN TUMOR DETECTION REPORT"

	NoTumorAdvice  = "No tumor detected. Continue with regular health monitoring."
	DisclaimerText = "This report is generated by an AI system for preliminary screening purposes only. " +
		"It should not replace professional medical diagnosis. " +
		"Please consult with a qualified healthcare provider for proper medical evaluation and treatment."
	DemoNotice = "Demo mode: no trained model was available, this result was generated for demonstration only."
)

var (
	urgentRecommendations = []string{
		"URGENT: Immediate medical consultation required",
		"Schedule MRI follow-up within 2 weeks",
		"Consider neurosurgical consultation",
	}
	routineRecommendations = []string{
		"Schedule follow-up MRI within 3 months",
		"Regular monitoring recommended",
		"Consult with neurologist for treatment options",
	}
)

type RGB struct {
	R, G, B int
}

var (
	ColorBlack    = RGB{0, 0, 0}
	ColorDarkBlue = RGB{0, 0, 139}
	ColorRed      = RGB{220, 20, 20}
	ColorGreen    = RGB{0, 128, 0}
	ColorGrey     = RGB{211, 211, 211}
	ColorWhite    = RGB{245, 245, 245}
	ColorOrange   = RGB{230, 120, 0}
)

// Line is one paragraph. A non-empty Label is printed in bold before Text.
type Line struct {
	Label  string
	Text   string
	Color  RGB
	Bold   bool
	Bullet bool
}

// Table is a two-column grid. Header is optional.
type Table struct {
	Header []string
	Rows   [][2]string
}

type Section struct {
	Heading string
	Table   *Table
	Lines   []Line
}

// Document is the fixed-layout content of a report, independent of the
// output format.
type Document struct {
	Title    string
	Meta     []Line
	Sections []Section
}

// Headings lists the section headings in order.
func (d Document) Headings() []string {
	out := make([]string, 0, len(d.Sections))
	for _, s := range d.Sections {
		out = append(out, s.Heading)
	}
	return out
}

// Section returns the section with the given heading.
func (d Document) Section(heading string) (Section, bool) {
	for _, s := range d.Sections {
		if s.Heading == heading {
			return s, true
		}
	}
	return Section{}, false
}

// Compose lays out the report. It does not validate its inputs.
func Compose(patient domain.PatientRecord, cls domain.ClassificationResult, attrs *domain.TumorAttributes, createdAt time.Time) Document {
	doc := Document{
		Title: Title,
		Meta: []Line{
			{Label: "Report Date:", Text: createdAt.Format("January 02, 2006"), Color: ColorBlack},
			{Label: "Report Time:", Text: createdAt.Format("03:04 PM"), Color: ColorBlack},
		},
	}

	doc.Sections = append(doc.Sections, Section{
		Heading: HeadingPatient,
		Table: &Table{Rows: [][2]string{
			{"Name:", patient.Name},
			{"Age:", strconv.Itoa(patient.Age) + " years"},
			{"Sex:", patient.Sex.Title()},
		}},
	})

	doc.Sections = append(doc.Sections, resultSection(cls, attrs))

	if cls.Label == domain.LabelTumor && attrs != nil {
		doc.Sections = append(doc.Sections,
			Section{
				Heading: HeadingCharacteristics,
				Table: &Table{
					Header: []string{"Characteristic", "Value"},
					Rows: [][2]string{
						{"Tumor Size", fmt.Sprintf("%.2f cm", attrs.SizeCM)},
						{"Danger Level", dangerLevel(attrs.Severity)},
						{"Estimated Life Span", fmt.Sprintf("%g years", attrs.PrognosisYears)},
						{"Recommended Treatment Timeframe", attrs.ActionWindow.Phrase()},
					},
				},
			},
			recommendationSection(attrs.Severity),
		)
	}

	doc.Sections = append(doc.Sections, Section{
		Heading: HeadingDisclaimer,
		Lines:   []Line{{Text: DisclaimerText, Color: ColorBlack}},
	})
	return doc
}

func resultSection(cls domain.ClassificationResult, attrs *domain.TumorAttributes) Section {
	color := ColorGreen
	if cls.Label == domain.LabelTumor {
		color = ColorOrange
		if attrs != nil && attrs.Severity == domain.SeverityHigh {
			color = ColorRed
		}
	}

	lines := []Line{{Label: "Tumor Detection:", Text: cls.Label.DisplayName(), Color: color, Bold: true}}
	if cls.Confidence != nil {
		lines = append(lines, Line{Label: "Confidence:", Text: fmt.Sprintf("%.1f%%", *cls.Confidence*100), Color: ColorBlack})
	}
	if cls.Demo {
		lines = append(lines, Line{Text: DemoNotice, Color: ColorOrange})
	}
	if cls.Label != domain.LabelTumor {
		lines = append(lines, Line{Text: NoTumorAdvice, Color: ColorBlack})
	}
	return Section{Heading: HeadingResults, Lines: lines}
}

func recommendationSection(severity domain.Severity) Section {
	items := routineRecommendations
	if severity == domain.SeverityHigh {
		items = urgentRecommendations
	}
	lines := make([]Line, 0, len(items))
	for i, item := range items {
		line := Line{Text: item, Color: ColorBlack, Bullet: true}
		if i == 0 && severity == domain.SeverityHigh {
			line.Color = ColorRed
			line.Bold = true
		}
		lines = append(lines, line)
	}
	return Section{Heading: HeadingRecommendations, Lines: lines}
}

func dangerLevel(s domain.Severity) string {
	if s == domain.SeverityHigh {
		return "HIGH"
	}
	return "LOW"
}
