// Package storage renders transcript artifacts.
package storage

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf/v2"
)

// TranscriptDocument holds everything rendered into the delivered PDF.
type TranscriptDocument struct {
	Subject      string
	CallerName   string
	Participants int
	Duration     time.Duration
	RecordedAt   time.Time
	Summary      string
	Segments     []TranscriptSegment
}

// TranscriptSegment is one leg's transcript text.
type TranscriptSegment struct {
	Label string
	Text  string
}

// GenerateTranscriptPDF renders the transcript document and returns the PDF
// bytes. Layout: title block, call metadata, summary, then one section per leg.
func GenerateTranscriptPDF(doc TranscriptDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Call Transcript", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 7, doc.Subject, "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(90, 90, 90)
	meta := fmt.Sprintf("%s  |  %d participant(s)  |  %s",
		doc.RecordedAt.Format("January 2, 2006 3:04 PM"),
		doc.Participants,
		formatDuration(doc.Duration))
	if doc.CallerName != "" {
		meta = doc.CallerName + "  |  " + meta
	}
	pdf.CellFormat(0, 6, meta, "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)

	if doc.Summary != "" {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, "Summary", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 5.5, doc.Summary, "", "L", false)
		pdf.Ln(4)
	}

	for _, seg := range doc.Segments {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 7, seg.Label, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		text := seg.Text
		if text == "" {
			text = "(no speech detected)"
		}
		pdf.MultiCell(0, 5.5, text, "", "L", false)
		pdf.Ln(3)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render transcript pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	if total < 60 {
		return fmt.Sprintf("%ds", total)
	}
	return fmt.Sprintf("%dm %02ds", total/60, total%60)
}
