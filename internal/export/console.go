package export

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/opensource-finance/rfm/internal/domain"
)

// TableConfig sets the console column widths.
type TableConfig struct {
	SegmentWidth int
	NumberWidth  int
}

func DefaultTableConfig() TableConfig {
	return TableConfig{
		SegmentWidth: 18,
		NumberWidth:  14,
	}
}

// ConsoleExporter prints the run summary as a text table.
type ConsoleExporter struct {
	writer  io.Writer
	config  TableConfig
	printer *message.Printer
}

// NewConsole writes to w, or stdout when w is nil.
func NewConsole(w io.Writer) *ConsoleExporter {
	if w == nil {
		w = os.Stdout
	}
	return &ConsoleExporter{
		writer:  w,
		config:  DefaultTableConfig(),
		printer: message.NewPrinter(language.English),
	}
}

func (c *ConsoleExporter) Format() string { return "console" }

const consoleTemplate = `
RFM segmentation {{.RunID}}
Window: {{date .Window.Start}} to {{date .Window.End}}   Reference: {{date .ReferenceDate}}   Quantiles: {{.QuantileCount}}

Rows: {{num .Stats.RawRows}} read, {{num .Stats.ValidRows}} valid, {{num .Rejections.Rejected}} rejected
Invoices: {{num .Stats.Invoices}}   Customers: {{num .Stats.Customers}}
{{if .Anomalies}}Invoices with conflicting dates: {{num (len .Anomalies)}}
{{end}}
{{separator}}
{{header}}
{{separator}}
{{range .Summary}}{{segmentRow .}}
{{end}}{{separator}}
{{with rejected .Rejections}}
Rejected rows:
{{range .}}  {{.Reason}}: {{num .Count}}
{{end}}{{end}}`

type reasonCount struct {
	Reason domain.RejectReason
	Count  int
}

func (c *ConsoleExporter) Export(report *domain.Report) (string, error) {
	sw, nw := c.config.SegmentWidth, c.config.NumberWidth
	funcMap := template.FuncMap{
		"date": func(t time.Time) string {
			return t.Format(domain.DateLayout)
		},
		"num": func(n int) string {
			return c.printer.Sprintf("%d", n)
		},
		"separator": func() string {
			return fmt.Sprintf("+%s+%s+%s+%s+%s+",
				strings.Repeat("-", sw+2),
				strings.Repeat("-", nw+2),
				strings.Repeat("-", nw+2),
				strings.Repeat("-", nw+2),
				strings.Repeat("-", nw+2))
		},
		"header": func() string {
			return fmt.Sprintf("| %-*s | %*s | %*s | %*s | %*s |",
				sw, "Segment", nw, "Customers", nw, "Share", nw, "Monetary", nw, "Avg R/F/M")
		},
		"segmentRow": func(s domain.SegmentSummary) string {
			avg := fmt.Sprintf("%.0f/%.1f/%.0f", s.AvgRecency, s.AvgFrequency, s.AvgMonetary)
			return fmt.Sprintf("| %-*s | %*s | %*s | %*s | %*s |",
				sw, s.Segment,
				nw, c.printer.Sprintf("%d", s.Customers),
				nw, fmt.Sprintf("%.1f%%", s.Share*100),
				nw, c.printer.Sprintf("%.2f", s.Monetary),
				nw, avg)
		},
		"rejected": func(r domain.RejectionSummary) []reasonCount {
			var out []reasonCount
			for _, reason := range domain.RejectReasons() {
				if n := r.ByReason[reason]; n > 0 {
					out = append(out, reasonCount{Reason: reason, Count: n})
				}
			}
			return out
		},
	}

	t, err := template.New("report").Funcs(funcMap).Parse(consoleTemplate)
	if err != nil {
		return "", eris.Wrap(err, "failed to parse template")
	}
	return "", eris.Wrap(t.Execute(c.writer, report), "failed to render report")
}
