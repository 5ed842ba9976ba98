package llm

import (
	"context"
	"fmt"
	"strings"

	"gokpi/internal"
	"gokpi/internal/errors"
	"gokpi/ports"
)

const narrativePrompt = `You are an experienced business analyst writing an executive summary of a KPI report.

REPORT:
%s

Write:
# Executive Summary
Two or three sentences on the most important finding, with the actual numbers and percentage changes.

# Key Insights
Three to five bullets. Each starts with the metric name and its change between named periods.

# Recommendations
Three specific, measurable actions tied to the metrics above.

Rules: use only numbers present in the report. Metrics shown as failed (in italics) were not computed; say so instead of guessing their values.`

// NarrativeAdapter implements ports.NarrativeGenerator with a chat model
type NarrativeAdapter struct {
	client    ports.LLMClient
	model     string
	maxTokens int
	logger    *internal.Logger
}

// NewNarrativeAdapter creates a narrative generator
func NewNarrativeAdapter(client ports.LLMClient, model string, maxTokens int) *NarrativeAdapter {
	return &NarrativeAdapter{
		client:    client,
		model:     model,
		maxTokens: maxTokens,
		logger:    internal.DefaultLogger.With("NarrativeAdapter"),
	}
}

// GenerateNarrative asks the model for prose insights on a rendered report
func (a *NarrativeAdapter) GenerateNarrative(ctx context.Context, report string) (string, error) {
	if strings.TrimSpace(report) == "" {
		return "", errors.InvalidInput("report is empty")
	}
	resp, err := a.client.ChatCompletion(ctx, a.model, fmt.Sprintf(narrativePrompt, report), a.maxTokens)
	if err != nil {
		return "", errors.ExternalServiceError("llm", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", errors.ExternalServiceError("llm", fmt.Errorf("empty narrative"))
	}
	if resp.Usage != nil {
		a.logger.Debug("narrative used %d tokens (%s)", resp.Usage.TotalTokens, resp.Usage.Model)
	}
	return text, nil
}
