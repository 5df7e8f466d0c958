package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
)

const (
	pageMargin  = 20.0
	lineHeight  = 6.0
	labelColumn = 60.0
	valueColumn = 110.0
)

// WritePDF renders doc as an A4 PDF. Content streams are left uncompressed.
func WritePDF(w io.Writer, doc Document, createdAt time.Time) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetCompression(false)
	pdf.SetTitle(doc.Title, true)
	pdf.SetCreator("tumor-report", true)
	pdf.SetCreationDate(createdAt)
	pdf.SetModificationDate(createdAt)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	setColor(pdf, ColorDarkBlue)
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(doc.Title), "", 1, "C", false, 0, "")
	pdf.Ln(6)

	for _, line := range doc.Meta {
		writeLine(pdf, tr, line)
	}
	pdf.Ln(6)

	for _, section := range doc.Sections {
		setColor(pdf, ColorDarkBlue)
		pdf.SetFont("Helvetica", "B", 14)
		pdf.CellFormat(0, 10, tr(section.Heading), "", 1, "L", false, 0, "")

		if section.Table != nil {
			writeTable(pdf, tr, section.Table)
		}
		for _, line := range section.Lines {
			writeLine(pdf, tr, line)
		}
		pdf.Ln(6)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("layout pdf: %w", err)
	}
	return pdf.Output(w)
}

func setColor(pdf *fpdf.Fpdf, c RGB) {
	pdf.SetTextColor(c.R, c.G, c.B)
}

func writeLine(pdf *fpdf.Fpdf, tr func(string) string, line Line) {
	text := line.Text
	if line.Bullet {
		text = "• " + text
	}

	if line.Label != "" {
		setColor(pdf, ColorBlack)
		pdf.SetFont("Helvetica", "B", 11)
		labelWidth := pdf.GetStringWidth(tr(line.Label)) + 2
		pdf.CellFormat(labelWidth, lineHeight, tr(line.Label), "", 0, "L", false, 0, "")
	}

	style := ""
	if line.Bold {
		style = "B"
	}
	setColor(pdf, line.Color)
	pdf.SetFont("Helvetica", style, 11)
	pdf.MultiCell(0, lineHeight, tr(text), "", "L", false)
}

func writeTable(pdf *fpdf.Fpdf, tr func(string) string, table *Table) {
	pdf.SetDrawColor(0, 0, 0)
	if len(table.Header) == 2 {
		pdf.SetFillColor(ColorDarkBlue.R, ColorDarkBlue.G, ColorDarkBlue.B)
		setColor(pdf, ColorWhite)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(labelColumn, 8, tr(table.Header[0]), "1", 0, "L", true, 0, "")
		pdf.CellFormat(valueColumn, 8, tr(table.Header[1]), "1", 1, "L", true, 0, "")
	}

	pdf.SetFillColor(ColorGrey.R, ColorGrey.G, ColorGrey.B)
	setColor(pdf, ColorBlack)
	for _, row := range table.Rows {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(labelColumn, 8, tr(row[0]), "1", 0, "L", true, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(valueColumn, 8, tr(row[1]), "1", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
}
