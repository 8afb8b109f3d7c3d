// Package receipt renders the one-page loan receipt and prints it to PDF
// through headless Chromium.
package receipt

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"html/template"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	appLog "loanbook/internal/log"
	"loanbook/internal/model"
)

// A4 in inches, as Chromium's print API expects.
const (
	paperWidthIn  = 8.27
	paperHeightIn = 11.69

	DefaultTimeout = 30 * time.Second
)

var receiptTmpl = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Loan receipt</title>
<style>
  @page { size: A4; margin: 0; }
  body { margin: 0; font-family: "Open Sans", sans-serif; font-size: 12pt; color: #000; }
  .page { padding: 1in; }
  .logo { display: block; margin: 0 auto 0.5in; width: 2.5in; height: 1.5in; object-fit: contain; }
  table.fields { border-collapse: collapse; }
  table.fields td { padding: 0 0 0.1in 0; vertical-align: top; }
  table.fields td.label { width: 2in; }
  .signature { display: flex; align-items: flex-end; margin-top: 1in; }
  .signature span { width: 2.5in; }
  .signature .line { flex: 0 0 4in; border-bottom: 1px solid #000; }
</style>
</head>
<body>
<div class="page">
{{- if .Logo }}
  <img class="logo" src="{{ .Logo }}" alt="">
{{- end }}
  <table class="fields">
    <tr><td class="label">Name:</td><td>{{ .Name }}</td></tr>
    <tr><td class="label">Company:</td><td>{{ .Company }}</td></tr>
    <tr><td class="label">Period:</td><td>{{ .Period }}</td></tr>
    <tr><td class="label">Loan:</td><td>{{ .Item }}</td></tr>
  </table>
  <div class="signature"><span>Authorized Signature:</span><div class="line"></div></div>
  <div class="signature"><span>Recipient's Signature:</span><div class="line"></div></div>
</div>
</body>
</html>
`))

type receiptView struct {
	Logo    template.URL
	Name    string
	Company string
	Period  string
	Item    string
}

// FileName returns "{name}_{item}_loan.pdf" with path separators replaced.
func FileName(e model.LoanEntry) string {
	clean := strings.NewReplacer("/", "-", `\`, "-").Replace
	return clean(e.Name) + "_" + clean(e.Item) + "_loan.pdf"
}

// RenderHTML renders the receipt page. logo is an already-encoded data URL
// or empty.
func RenderHTML(e model.LoanEntry, logo string) (string, error) {
	var buf bytes.Buffer
	view := receiptView{
		Logo:    template.URL(logo),
		Name:    e.Name,
		Company: e.Company,
		Period:  e.Period(),
		Item:    e.Item,
	}
	if err := receiptTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("receipt: render: %w", err)
	}
	return buf.String(), nil
}

// LogoDataURL inlines an image file so the page has no external
// references. A missing file yields "" and no error.
func LogoDataURL(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// Printer turns an HTML page into PDF bytes.
type Printer interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// ChromePrinter prints through a fresh headless Chromium per call.
type ChromePrinter struct {
	Timeout time.Duration
}

// PrintPDF loads html into a blank tab and prints it on A4.
func (p ChromePrinter) PrintPDF(parentCtx context.Context, html string) ([]byte, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var pdf []byte
	tasks := chromedp.Tasks{
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdf, _, err = page.PrintToPDF().
				WithPaperWidth(paperWidthIn).
				WithPaperHeight(paperHeightIn).
				WithMarginTop(0).
				WithMarginBottom(0).
				WithMarginLeft(0).
				WithMarginRight(0).
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("receipt: chromedp run failed: %w", err)
	}
	return pdf, nil
}

// Generator writes receipts into Dir.
type Generator struct {
	Dir      string
	LogoPath string
	Printer  Printer
}

// NewGenerator returns a generator printing with headless Chromium.
func NewGenerator(dir, logoPath string, timeout time.Duration) *Generator {
	return &Generator{
		Dir:      dir,
		LogoPath: logoPath,
		Printer:  ChromePrinter{Timeout: timeout},
	}
}

// Write renders the receipt for e and saves it as Dir/FileName(e).
func (g *Generator) Write(ctx context.Context, e model.LoanEntry) (string, error) {
	logo, err := LogoDataURL(g.LogoPath)
	if err != nil {
		appLog.Warn("receipt logo unreadable; rendering without it", "path", g.LogoPath, "err", err)
		logo = ""
	}

	html, err := RenderHTML(e, logo)
	if err != nil {
		return "", err
	}

	pdf, err := g.Printer.PrintPDF(ctx, html)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(g.Dir, 0o755); err != nil {
		return "", fmt.Errorf("receipt: create %s: %w", g.Dir, err)
	}
	path := filepath.Join(g.Dir, FileName(e))
	if err := os.WriteFile(path, pdf, 0o644); err != nil {
		return "", fmt.Errorf("receipt: write %s: %w", path, err)
	}

	appLog.Info("receipt written", "path", path, "bytes", len(pdf))
	return path, nil
}
