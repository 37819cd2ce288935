package reports

import (
	"bytes"
	"context"
	_ "embed"
	"html/template"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/shopspring/decimal"
)

//go:embed templates/financial_report.html
var financialReportHTML string

var financialTemplate = template.Must(template.New("financial_report").Funcs(template.FuncMap{
	"money": func(v decimal.Decimal) string { return v.StringFixed(2) },
}).Parse(financialReportHTML))

// PDFRenderer turns a standalone HTML document into PDF bytes.
type PDFRenderer interface {
	Render(ctx context.Context, html string) ([]byte, error)
}

type financialView struct {
	Report      *FinancialReport
	RangeLabel  string
	GeneratedAt string
}

func renderFinancialHTML(report *FinancialReport, now time.Time) (string, error) {
	view := financialView{
		Report:      report,
		RangeLabel:  rangeLabel(report.From, report.To),
		GeneratedAt: now.UTC().Format("2006-01-02 15:04 MST"),
	}
	var buf bytes.Buffer
	if err := financialTemplate.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func rangeLabel(from, to *time.Time) string {
	const layout = "2006-01-02"
	switch {
	case from != nil && to != nil:
		return from.UTC().Format(layout) + " to " + to.UTC().Format(layout)
	case from != nil:
		return "since " + from.UTC().Format(layout)
	case to != nil:
		return "until " + to.UTC().Format(layout)
	default:
		return "all time"
	}
}

// ChromeRenderer prints HTML through a headless Chrome instance.
type ChromeRenderer struct {
	timeout time.Duration
}

func NewChromeRenderer(timeout time.Duration) *ChromeRenderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChromeRenderer{timeout: timeout}
}

func (r *ChromeRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, cancelBrowser := chromedp.NewContext(ctx)
	defer cancelBrowser()

	var pdf []byte
	err := chromedp.Run(ctx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := page.PrintToPDF().WithPrintBackground(true).Do(ctx)
			if err != nil {
				return err
			}
			pdf = out
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return pdf, nil
}
