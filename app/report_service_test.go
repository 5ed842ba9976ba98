package app

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"gokpi/domain/metric"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNarrator struct {
	mock.Mock
}

func (m *mockNarrator) GenerateNarrative(ctx context.Context, report string) (string, error) {
	args := m.Called(ctx, report)
	return args.String(0), args.Error(1)
}

func evaluatedBundle(t *testing.T) *ResultBundle {
	t.Helper()
	b, err := NewKPIService(ServiceOptions{}).Evaluate(context.Background(), EvaluationRequest{
		Dataset:       ordersDataset(t),
		Catalog:       ordersCatalog(t),
		CustomMetrics: []metric.CustomMetric{{Name: "Avg Sale", Formula: `sum("Sales Amount") / count("Order ID")`}},
	})
	require.NoError(t, err)
	return b
}

func TestRenderMarkdown(t *testing.T) {
	md := RenderMarkdown(evaluatedBundle(t))

	assert.Contains(t, md, "# KPI report: orders")
	assert.Contains(t, md, "granularity **month** by `Order Date`")
	assert.Contains(t, md, "Unmatched placeholders: Profit")
	assert.Contains(t, md, "| Period | Revenue | Orders | AOV | Margin |")
	assert.Contains(t, md, "| 2024-01 | 100 | 2 | 50 | _UnmatchedColumn_ |")
	assert.Contains(t, md, "| Avg Sale | `sum(\"Sales Amount\") / count(\"Order ID\")` | 70 |")
	assert.Contains(t, md, "| Revenue | observed | down | -40% |")
	assert.NotContains(t, md, "Partial run")
}

func TestRenderMarkdown_PartialNote(t *testing.T) {
	b := evaluatedBundle(t)
	b.Partial = true
	assert.Contains(t, RenderMarkdown(b), "Partial run")
}

func TestRenderHTML(t *testing.T) {
	html := RenderHTML("# Title\n\n| a | b |\n|---|---|\n| 1 | 2 |\n")
	assert.Contains(t, html, `<h1 id="title">Title</h1>`)
	assert.Contains(t, html, "<table>")
	assert.Contains(t, html, "<td>1</td>")
}

func TestRenderHTML_DropsRawHTMLFromNames(t *testing.T) {
	b := evaluatedBundle(t)
	b.Dataset = `<script>alert(1)</script>`
	b.CustomResults = append(b.CustomResults, metric.CustomResult{Name: `<img src=x onerror=alert(2)>`, Formula: "1"})

	html := RenderHTML(RenderMarkdown(b))
	assert.Contains(t, html, "KPI report:")
	assert.NotContains(t, html, "<script>")
	assert.NotContains(t, html, "<img")
}

func TestReportBuild_WithoutNarrator(t *testing.T) {
	r := NewReportService(nil).Build(context.Background(), evaluatedBundle(t), true)
	assert.Empty(t, r.Narrative)
	assert.Contains(t, r.HTML, "<table>")
	assert.NotContains(t, r.Markdown, "## Narrative")
}

func TestReportBuild_AppendsNarrative(t *testing.T) {
	n := new(mockNarrator)
	n.On("GenerateNarrative", mock.Anything, mock.MatchedBy(func(report string) bool {
		return strings.Contains(report, "## Metrics")
	})).Return("Revenue fell 40% from January to March.", nil)

	r := NewReportService(n).Build(context.Background(), evaluatedBundle(t), true)
	assert.Equal(t, "Revenue fell 40% from January to March.", r.Narrative)
	assert.Contains(t, r.Markdown, "## Narrative\n\nRevenue fell 40%")
	assert.Contains(t, r.HTML, "Revenue fell 40% from January to March.")
	n.AssertExpectations(t)
}

func TestReportBuild_NarrativeFailureIsNotFatal(t *testing.T) {
	n := new(mockNarrator)
	n.On("GenerateNarrative", mock.Anything, mock.Anything).Return("", stderrors.New("rate limited"))

	r := NewReportService(n).Build(context.Background(), evaluatedBundle(t), true)
	assert.Empty(t, r.Narrative)
	assert.Contains(t, r.Markdown, "## Metrics")
}

func TestReportBuild_NarrativeNotRequested(t *testing.T) {
	n := new(mockNarrator)
	NewReportService(n).Build(context.Background(), evaluatedBundle(t), false)
	n.AssertNotCalled(t, "GenerateNarrative", mock.Anything, mock.Anything)
}
