// Package landing renders the target-facing simulated pages.
package landing

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/foxzi/phishdrill/internal/campaign"
)

//go:embed pages/*.html
var pagesFS embed.FS

// Page names
const (
	PageLogin    = "login"
	PageError    = "error"
	PageUpdate   = "update"
	PageSuccess  = "success"
	PageNotice   = "notice"
	PageNotFound = "notfound"
	PageProblem  = "problem"
)

// Data is passed to every page
type Data struct {
	CampaignID  string
	TargetEmail string
	SubmitPath  string
	NoticePath  string

	// Title and Message fill the generic problem page
	Title   string
	Message string

	WarnCredentials bool
}

// Renderer holds one parsed template set per page
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the embedded pages
func New() (*Renderer, error) {
	layout, err := template.ParseFS(pagesFS, "pages/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}

	entries, err := fs.ReadDir(pagesFS, "pages")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "layout.html" {
			continue
		}

		tmpl, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := tmpl.ParseFS(pagesFS, path.Join("pages", name)); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		r.pages[strings.TrimSuffix(name, path.Ext(name))] = tmpl
	}

	return r, nil
}

// Render writes the named page. Output is buffered so a template error never
// leaves a half-written response.
func (r *Renderer) Render(w io.Writer, name string, data Data) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return fmt.Errorf("failed to render %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}

// ForVariant maps a campaign page type to its landing page
func ForVariant(p campaign.PageType) string {
	switch p {
	case campaign.PageError:
		return PageError
	case campaign.PageUpdate:
		return PageUpdate
	default:
		return PageLogin
	}
}
