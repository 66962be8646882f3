package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/otel"
)

// Pipeline is the default Generator: analyze all assets concurrently,
// render, then publish the canonical artifact
type Pipeline struct {
	assets    []string
	education []config.EducationEntry
	analyzer  Analyzer
	renderer  Renderer
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// PipelineOption configures a Pipeline
type PipelineOption func(*Pipeline)

// WithAssets sets the assets analyzed on every run
func WithAssets(assets ...string) PipelineOption {
	return func(p *Pipeline) {
		p.assets = append([]string(nil), assets...)
	}
}

// WithEducation sets the static educational entries
func WithEducation(entries []config.EducationEntry) PipelineOption {
	return func(p *Pipeline) {
		p.education = entries
	}
}

// WithLogger sets the logger used for progress messages
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithClock overrides the time source (for testing)
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// NewPipeline creates a pipeline from its collaborators
func NewPipeline(analyzer Analyzer, renderer Renderer, publisher Publisher, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		assets:    append([]string(nil), config.DefaultAssets...),
		analyzer:  analyzer,
		renderer:  renderer,
		publisher: publisher,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Generate runs one full generation. Nothing is published unless every
// asset was analyzed and the document rendered.
func (p *Pipeline) Generate(ctx context.Context) (*Result, error) {
	p.logger.InfoContext(ctx, "Generating dashboard", "assets", p.assets)

	analyses := make([]*Analysis, len(p.assets))
	g, gctx := errgroup.WithContext(ctx)
	for i, assetID := range p.assets {
		g.Go(func() error {
			actx, span := otel.StartChildSpan(gctx, "generator.analyze",
				trace.WithAttributes(otel.AttrAssetID.String(assetID)))
			defer span.End()

			p.logger.InfoContext(actx, "Analyzing asset", "asset", assetID)
			analysis, err := p.analyzer.Analyze(actx, assetID)
			if err != nil {
				otel.RecordError(span, err)
				return fmt.Errorf("failed to analyze %s: %w", assetID, err)
			}
			analyses[i] = analysis
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	doc := &Document{
		GeneratedAt: p.now().UTC(),
		Analyses:    analyses,
		Education:   p.education,
	}

	data, err := p.render(ctx, doc)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("generation cancelled before publishing: %w", err)
	}

	if err := p.publish(ctx, data); err != nil {
		return nil, err
	}

	return &Result{
		GeneratedAt: doc.GeneratedAt,
		Analyses:    analyses,
	}, nil
}

func (p *Pipeline) render(ctx context.Context, doc *Document) ([]byte, error) {
	ctx, span := otel.StartChildSpan(ctx, "generator.render",
		trace.WithAttributes(otel.AttrAssetCount.Int(len(doc.Analyses))))
	defer span.End()

	p.logger.InfoContext(ctx, "Rendering dashboard HTML")
	data, err := p.renderer.Render(ctx, doc)
	if err != nil {
		otel.RecordError(span, err)
		return nil, fmt.Errorf("failed to render dashboard: %w", err)
	}
	span.SetAttributes(otel.AttrArtifactBytes.Int(len(data)))
	return data, nil
}

func (p *Pipeline) publish(ctx context.Context, data []byte) error {
	_, span := otel.StartChildSpan(ctx, "generator.publish",
		trace.WithAttributes(otel.AttrArtifactName.String(artifact.CanonicalName)))
	defer span.End()

	if err := p.publisher.Publish(artifact.CanonicalName, data); err != nil {
		otel.RecordError(span, err)
		return fmt.Errorf("failed to publish dashboard: %w", err)
	}
	return nil
}
