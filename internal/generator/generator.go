// Package generator produces the dashboard artifact.
//
// A generation analyzes every configured asset, renders the results into a
// single HTML document and publishes it as the canonical artifact. The
// analysis itself is performed by an external program; this package only
// orchestrates it.
package generator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/status"
)

//go:generate mockgen -destination=mocks/mock_generator.go -package=mocks -source=generator.go Generator,Analyzer,Renderer,Publisher

// DefaultMaxScore is the synthesis scale used when the analyzer omits one
const DefaultMaxScore = 4

// Generator produces and publishes a new artifact.
// Generate must be safe to call repeatedly; on failure the previously
// published artifact is left untouched.
type Generator interface {
	Generate(ctx context.Context) (*Result, error)
}

// Unavailable returns a Generator whose every call fails with err
func Unavailable(err error) Generator {
	return unavailable{err: err}
}

type unavailable struct {
	err error
}

func (u unavailable) Generate(context.Context) (*Result, error) {
	return nil, u.err
}

// Analyzer computes the analysis of one asset
type Analyzer interface {
	Analyze(ctx context.Context, assetID string) (*Analysis, error)
}

// Renderer turns a document into the artifact bytes
type Renderer interface {
	Render(ctx context.Context, doc *Document) ([]byte, error)
}

// Publisher atomically replaces a named artifact
type Publisher interface {
	Publish(name string, data []byte) error
}

// Alert is a contextual warning raised by the analyzer
type Alert struct {
	Active bool
	Type   string
}

// Detail is an additional scalar field reported by the analyzer
type Detail struct {
	Key   string
	Value string
}

// Analysis is the outcome of analyzing one asset
type Analysis struct {
	AssetID  string
	Bias     string
	Score    float64
	MaxScore float64
	Alert    Alert
	Details  []Detail
}

// Document is everything a renderer needs to build the dashboard
type Document struct {
	GeneratedAt time.Time
	Analyses    []*Analysis
	Education   []config.EducationEntry
}

// Result summarizes a successful generation.
// It is only used for logging and status reporting.
type Result struct {
	GeneratedAt time.Time
	Analyses    []*Analysis
}

// Headline returns the one-line summary of the first asset, e.g.
// "BTC: BULLISH (3/4)"
func (r *Result) Headline() string {
	if r == nil || len(r.Analyses) == 0 {
		return "no assets analyzed"
	}
	a := r.Analyses[0]
	return fmt.Sprintf("%s: %s (%s/%s)", a.AssetID, a.Bias, formatScore(a.Score), formatScore(a.MaxScore))
}

// Alerts returns the analyses that carry an active alert
func (r *Result) Alerts() []*Analysis {
	if r == nil {
		return nil
	}
	var out []*Analysis
	for _, a := range r.Analyses {
		if a.Alert.Active {
			out = append(out, a)
		}
	}
	return out
}

// Summaries converts the result into status summaries
func (r *Result) Summaries() []status.AssetSummary {
	if r == nil {
		return nil
	}
	out := make([]status.AssetSummary, 0, len(r.Analyses))
	for _, a := range r.Analyses {
		s := status.AssetSummary{
			ID:       a.AssetID,
			Bias:     a.Bias,
			Score:    a.Score,
			MaxScore: a.MaxScore,
		}
		if a.Alert.Active {
			s.AlertType = a.Alert.Type
		}
		out = append(out, s)
	}
	return out
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
