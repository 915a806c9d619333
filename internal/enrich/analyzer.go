package enrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/nhle/mailwatch/internal/model"
)

// Request is the input of one analysis.
type Request struct {
	MessageID string
	Subject   string
	Body      string
	Sender    string
}

// Analyzer produces a semantic analysis of a message.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*model.Enrichment, error)
}

// AnalysisError wraps any failure of an Analyzer: transport errors,
// non-2xx responses and malformed results alike.
type AnalysisError struct {
	Provider string
	Err      error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis error (%s): %v", e.Provider, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// IsAnalysisError reports whether err (or any error in its chain) is an
// AnalysisError.
func IsAnalysisError(err error) bool {
	var analysisErr *AnalysisError
	return errors.As(err, &analysisErr)
}

// result is the wire shape shared by both analyzers.
type result struct {
	Summary        string   `json:"summary"`
	Priority       string   `json:"priority"`
	Sentiment      string   `json:"sentiment"`
	Tags           []string `json:"tags"`
	KeyPoints      []string `json:"key_points"`
	ActionRequired bool     `json:"action_required"`
	Confidence     float64  `json:"confidence"`
}

// toEnrichment validates r and converts it.
func (r result) toEnrichment() (*model.Enrichment, error) {
	e := &model.Enrichment{
		Summary:        r.Summary,
		Priority:       model.Priority(r.Priority),
		Sentiment:      model.Sentiment(r.Sentiment),
		Tags:           r.Tags,
		KeyPoints:      r.KeyPoints,
		ActionRequired: r.ActionRequired,
		Confidence:     r.Confidence,
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if e.KeyPoints == nil {
		e.KeyPoints = []string{}
	}
	if err := Validate(*e); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate checks the enumerated fields and confidence range.
func Validate(e model.Enrichment) error {
	if !e.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", e.Priority)
	}
	if !e.Sentiment.Valid() {
		return fmt.Errorf("invalid sentiment %q", e.Sentiment)
	}
	if !(e.Confidence >= 0 && e.Confidence <= 1) {
		return fmt.Errorf("confidence %v out of range [0,1]", e.Confidence)
	}
	return nil
}
