package generator

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/dashboard.html.tmpl
var templateFS embed.FS

// HTMLRenderer renders the dashboard with the embedded HTML template
type HTMLRenderer struct {
	tmpl *template.Template
}

// NewHTMLRenderer parses the embedded dashboard template
func NewHTMLRenderer() (*HTMLRenderer, error) {
	tmpl, err := template.New("dashboard.html.tmpl").
		Funcs(template.FuncMap{"score": formatScore}).
		ParseFS(templateFS, "templates/dashboard.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse dashboard template: %w", err)
	}
	return &HTMLRenderer{tmpl: tmpl}, nil
}

// Render executes the template for doc
func (r *HTMLRenderer) Render(_ context.Context, doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, doc); err != nil {
		return nil, fmt.Errorf("failed to execute dashboard template: %w", err)
	}
	return buf.Bytes(), nil
}
