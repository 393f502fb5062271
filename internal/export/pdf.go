package export

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"wayfarer-planner/internal/itinerary"
)

const pageWidth = 170.0

// ItineraryPDF renders a stored itinerary as an A4 document. Records without a structured plan
// print the raw model response instead.
func ItineraryPDF(rec *itinerary.StoredItinerary, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(150, 150, 150)
		pdf.CellFormat(0, 8,
			fmt.Sprintf("Wayfarer itinerary %s  |  page %d  |  estimates only, not a booking", shortKey(rec.CacheKey), pdf.PageNo()),
			"", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// header bar
	pdf.SetFillColor(13, 24, 37)
	pdf.Rect(0, 0, 210, 28, "F")
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Helvetica", "B", 18)
	pdf.SetXY(20, 8)
	pdf.CellFormat(pageWidth, 10, tr(fmt.Sprintf("%s to %s", rec.Source, rec.Destination)), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.SetTextColor(212, 168, 67)
	pdf.SetXY(20, 18)
	pdf.CellFormat(pageWidth, 6, fmt.Sprintf("%s - %s", readableDate(rec.StartDate), readableDate(rec.EndDate)), "", 1, "L", false, 0, "")
	pdf.SetY(35)
	pdf.SetTextColor(0, 0, 0)

	section := func(title string) {
		pdf.SetFillColor(13, 24, 37)
		pdf.SetTextColor(255, 255, 255)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(pageWidth, 8, "  "+tr(title), "", 1, "L", true, 0, "")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(2)
	}
	row := func(label, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(45, 6, tr(label), "", 0, "L", false, 0, "")
		pdf.SetTextColor(20, 20, 20)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(pageWidth-45, 6, tr(value), "", "L", false)
	}
	bullets := func(items []string) {
		pdf.SetFont("Helvetica", "", 10)
		pdf.SetTextColor(40, 40, 40)
		for _, item := range items {
			pdf.MultiCell(pageWidth, 5, tr("- "+item), "", "L", false)
		}
	}

	section("Trip Overview")
	row("Dates", fmt.Sprintf("%s to %s", itinerary.FormatDate(rec.StartDate), itinerary.FormatDate(rec.EndDate)))
	row("Budget", string(rec.Budget))
	for _, k := range rec.Preferences.Keys() {
		row(strings.ReplaceAll(k, "_", " "), rec.Preferences.Display(k))
	}
	row("Generated", generatedAt.UTC().Format("02 Jan 2006, 15:04 UTC"))
	pdf.Ln(4)

	plan := rec.Structured
	if plan == nil {
		section("Itinerary")
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(pageWidth, 5, tr(rec.RawResponse), "", "L", false)
		return output(pdf)
	}

	sum := plan.TripSummary
	section("Summary")
	row("Route", sum.Route)
	if sum.DurationDays > 0 {
		row("Duration", fmt.Sprintf("%g days", float64(sum.DurationDays)))
	}
	if sum.TotalEstimatedCost > 0 {
		row("Estimated total", money(sum.TotalEstimatedCost, sum.Currency))
	}
	if sum.BudgetFeasible != nil {
		feasible := "No"
		if *sum.BudgetFeasible {
			feasible = "Yes"
		}
		row("Within budget", feasible)
	}
	row("Budget notes", sum.BudgetNotes)
	pdf.Ln(4)

	for _, d := range plan.Days {
		title := fmt.Sprintf("Day %g", float64(d.Day))
		if d.Date != "" {
			title += "  " + d.Date
		}
		if d.City != "" {
			title += "  " + d.City
		}
		section(title)
		row("Morning", strings.Join(d.Morning, "; "))
		row("Afternoon", strings.Join(d.Afternoon, "; "))
		row("Evening", strings.Join(d.Evening, "; "))
		row("Breakfast", d.Meals.Breakfast)
		row("Lunch", d.Meals.Lunch)
		row("Dinner", d.Meals.Dinner)
		row("Transport", d.Transport)
		row("Lodging", d.Lodging)
		if d.EstimatedCost > 0 {
			row("Estimated cost", money(d.EstimatedCost, sum.Currency))
		}
		pdf.Ln(3)
	}

	for _, list := range []struct {
		title string
		items []string
	}{
		{"Packing Tips", plan.PackingTips},
		{"Local Tips", plan.LocalTips},
		{"Assumptions", plan.Assumptions},
	} {
		if len(list.items) == 0 {
			continue
		}
		section(list.title)
		bullets(list.items)
		pdf.Ln(3)
	}

	return output(pdf)
}

// Filename suggests a download name for rec.
func Filename(rec *itinerary.StoredItinerary) string {
	slug := func(s string) string {
		var b strings.Builder
		for _, r := range strings.ToLower(strings.TrimSpace(s)) {
			switch {
			case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
				b.WriteRune(r)
			case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
				b.WriteByte('-')
			}
		}
		return strings.Trim(b.String(), "-")
	}
	return fmt.Sprintf("itinerary-%s-%s-%s.pdf", slug(rec.Destination), itinerary.FormatDate(rec.StartDate), shortKey(rec.CacheKey))
}

func output(pdf *gofpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf output failed: %w", err)
	}
	return buf.Bytes(), nil
}

func money(a itinerary.Amount, currency string) string {
	if currency == "" {
		return fmt.Sprintf("%.0f", float64(a))
	}
	return fmt.Sprintf("%.0f %s", float64(a), currency)
}

func readableDate(t time.Time) string {
	return t.UTC().Format("02 Jan 2006 (Mon)")
}

func shortKey(k string) string {
	if len(k) > 8 {
		return k[:8]
	}
	return k
}
