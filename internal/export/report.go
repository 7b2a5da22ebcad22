package export

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/phpdave11/gofpdf"
	"github.com/smallbiznis/loanportfolio/internal/loan/domain"
)

func renderReportJSON(out *domain.RunOutput) ([]byte, error) {
	r := out.Report
	if r.RuleFailures == nil {
		r.RuleFailures = []domain.RuleFailure{}
	}
	if r.ProblematicApplicationIDs == nil {
		r.ProblematicApplicationIDs = []string{}
	}
	if r.Quarantined == nil {
		r.Quarantined = []domain.QuarantinedRow{}
	}
	body, err := json.MarshalIndent(struct {
		domain.QualityReport
		HasAnomalies bool `json:"has_anomalies"`
	}{r, r.HasAnomalies()}, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(body, '\n'), nil
}

var (
	headingText = props.Text{Size: 12, Style: fontstyle.Bold, Top: 3}
	labelText   = props.Text{Size: 9, Style: fontstyle.Bold}
	cellText    = props.Text{Size: 9}
	numberText  = props.Text{Size: 9, Align: align.Right}
)

// gofpdf reads its document defaults when maroto creates the document, so
// they are pinned for the whole render.
var pdfDefaults sync.Mutex

// renderReportPDF lays the report out as a summary followed by one table per
// section. Quarantined rows are listed without their raw text. The document
// dates are processed_at, so reruns render the same bytes.
func renderReportPDF(out *domain.RunOutput) ([]byte, error) {
	stamp := out.Report.ProcessedAt
	if stamp.IsZero() {
		stamp = time.Unix(0, 0).UTC()
	}

	pdfDefaults.Lock()
	defer pdfDefaults.Unlock()
	gofpdf.SetDefaultCatalogSort(true)
	gofpdf.SetDefaultCreationDate(stamp)
	gofpdf.SetDefaultModificationDate(stamp)
	defer func() {
		gofpdf.SetDefaultCatalogSort(false)
		gofpdf.SetDefaultCreationDate(time.Time{})
		gofpdf.SetDefaultModificationDate(time.Time{})
	}()

	return buildReportPDF(out.Report, stamp)
}

func buildReportPDF(r domain.QualityReport, stamp time.Time) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		WithCreationDate(stamp).
		Build()

	m := maroto.New(cfg)

	m.AddRow(14,
		text.NewCol(12, "Data quality report", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
	)
	m.AddRow(8,
		text.NewCol(6, "Processed at: "+fmtTimestamp(r.ProcessedAt), cellText),
		text.NewCol(6, "Anomalies: "+strconv.FormatBool(r.HasAnomalies()), props.Text{Size: 9, Align: align.Right}),
	)

	m.AddRow(10, text.NewCol(12, "Rows", headingText))
	m.AddRow(6,
		text.NewCol(3, "Source", labelText),
		text.NewCol(3, "Read", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(3, "Processed", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
		text.NewCol(3, "Quarantined", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)
	for _, src := range []struct {
		name   string
		counts domain.SourceCounts
	}{
		{domain.SourceApplications, r.Applications},
		{domain.SourceServicing, r.Servicing},
	} {
		m.AddRow(5,
			text.NewCol(3, src.name, cellText),
			text.NewCol(3, strconv.Itoa(src.counts.Read), numberText),
			text.NewCol(3, strconv.Itoa(src.counts.Processed), numberText),
			text.NewCol(3, strconv.Itoa(src.counts.Quarantined), numberText),
		)
	}
	m.AddRow(5,
		text.NewCol(3, domain.SourcePortfolio, cellText),
		text.NewCol(3, strconv.Itoa(r.PortfolioRows), numberText),
		col.New(6),
	)

	m.AddRow(10, text.NewCol(12, "Rule failures", headingText))
	for _, f := range r.RuleFailures {
		m.AddRow(5,
			text.NewCol(9, f.Key(), cellText),
			text.NewCol(3, strconv.Itoa(f.Failures), numberText),
		)
	}

	m.AddRow(10, text.NewCol(12, fmt.Sprintf("Problematic applications (%d)", len(r.ProblematicApplicationIDs)), headingText))
	for _, id := range r.ProblematicApplicationIDs {
		m.AddRow(5, text.NewCol(12, id, cellText))
	}

	if len(r.Quarantined) > 0 {
		m.AddRow(10, text.NewCol(12, fmt.Sprintf("Quarantined rows (%d)", len(r.Quarantined)), headingText))
		for _, q := range r.Quarantined {
			m.AddRow(5,
				text.NewCol(3, q.Source, cellText),
				text.NewCol(2, strconv.Itoa(q.LineNumber), numberText),
				text.NewCol(7, q.Reason, cellText),
			)
		}
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
