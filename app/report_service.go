package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"gokpi/domain/metric"
	"gokpi/internal"
	"gokpi/ports"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Report is a rendered view of a result bundle
type Report struct {
	Markdown  string `json:"markdown"`
	HTML      string `json:"html"`
	Narrative string `json:"narrative,omitempty"`
}

// ReportService renders bundles and optionally asks a narrative generator
// for prose insights.
type ReportService struct {
	narrator ports.NarrativeGenerator
	logger   *internal.Logger
}

// NewReportService creates a report service; narrator may be nil
func NewReportService(narrator ports.NarrativeGenerator) *ReportService {
	return &ReportService{
		narrator: narrator,
		logger:   internal.DefaultLogger.With("ReportService"),
	}
}

// Build renders the bundle. A failing narrative generator does not fail the
// report; the narrative is simply left out.
func (s *ReportService) Build(ctx context.Context, b *ResultBundle, withNarrative bool) *Report {
	md := RenderMarkdown(b)
	r := &Report{Markdown: md, HTML: RenderHTML(md)}
	if !withNarrative || s.narrator == nil {
		return r
	}
	text, err := s.narrator.GenerateNarrative(ctx, md)
	if err != nil {
		s.logger.Warn("narrative for run %s failed: %v", b.RunID, err)
		return r
	}
	r.Narrative = text
	r.Markdown = md + "\n## Narrative\n\n" + text + "\n"
	r.HTML = RenderHTML(r.Markdown)
	return r
}

// RenderHTML converts markdown to HTML. Raw HTML in the markdown is dropped:
// dataset and metric names come from the caller.
func RenderHTML(md string) string {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.HrefTargetBlank | html.SkipHTML})
	return string(markdown.ToHTML([]byte(md), p, renderer))
}

// RenderMarkdown writes a bundle as a markdown document: one table of
// metrics by period, then custom metrics and trends.
func RenderMarkdown(b *ResultBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# KPI report: %s\n\n", b.Dataset)
	fmt.Fprintf(&sb, "Run `%s`, %d rows, granularity **%s**", b.RunID, b.RowCount, b.Granularity)
	if b.DateColumn != "" {
		fmt.Fprintf(&sb, " by `%s`", b.DateColumn)
	}
	sb.WriteString(".\n")
	if b.Partial {
		sb.WriteString("\n> Partial run: evaluation stopped before every period was computed.\n")
	}
	if len(b.Unmatched) > 0 {
		fmt.Fprintf(&sb, "\nUnmatched placeholders: %s\n", strings.Join(b.Unmatched, ", "))
	}

	names := resultNames(b.Results)
	if len(names) > 0 && len(b.Periods) > 0 {
		sb.WriteString("\n## Metrics\n\n| Period |")
		for _, n := range names {
			sb.WriteString(" " + n + " |")
		}
		sb.WriteString("\n|---|")
		sb.WriteString(strings.Repeat("---:|", len(names)))
		sb.WriteString("\n")
		for _, p := range b.Periods {
			sb.WriteString("| " + p.Key + " |")
			for _, n := range names {
				r, _ := b.Result(n, p.Key)
				sb.WriteString(" " + formatCell(r) + " |")
			}
			sb.WriteString("\n")
		}
	}

	if len(b.CustomResults) > 0 {
		sb.WriteString("\n## Custom metrics\n\n| Name | Formula | Value |\n|---|---|---:|\n")
		for _, c := range b.CustomResults {
			val := "n/a (" + string(c.ErrorKind) + ")"
			if c.Success && c.Value != nil {
				val = formatNumber(*c.Value)
			}
			fmt.Fprintf(&sb, "| %s | `%s` | %s |\n", c.Name, c.Formula, val)
		}
	}

	if len(b.Trends) > 0 {
		sb.WriteString("\n## Trends\n\n| Metric | Source | Direction | Change | Volatility | Anomalies |\n|---|---|---|---:|---|---|\n")
		for _, t := range b.Trends {
			change := "n/a"
			if t.ChangePct != nil {
				change = formatNumber(*t.ChangePct) + "%"
			}
			vol := string(t.Volatility)
			if vol == "" {
				vol = "n/a"
			}
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s |\n",
				t.Metric, t.Source, t.Direction, change, vol, formatIndices(t.AnomalyPeriodIndices))
		}
	}
	return sb.String()
}

func resultNames(results []metric.Result) []string {
	seen := make(map[string]bool)
	var names []string
	for _, r := range results {
		if !seen[r.Name] {
			seen[r.Name] = true
			names = append(names, r.Name)
		}
	}
	return names
}

func formatCell(r metric.Result) string {
	switch {
	case !r.Success:
		return "_" + string(r.ErrorKind) + "_"
	case r.Breakdown != nil:
		keys := r.BreakdownKeys()
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ": " + formatNumber(r.Breakdown[k])
		}
		return strings.Join(parts, "; ")
	case r.Value != nil:
		return formatNumber(*r.Value)
	}
	return ""
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatIndices(idx []int) string {
	if len(idx) == 0 {
		return "none"
	}
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ", ")
}
