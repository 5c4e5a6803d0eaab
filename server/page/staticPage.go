package page

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/template"

	"github.com/tkrehbiel/activitycore/server/telemetry"
)

// StaticPage describes a discovery document rendered once from server
// metadata and then served unchanged.
type StaticPage struct {
	Path        string // route the document is served at
	Accept      string // required Accept header, empty or */* for any
	ContentType string
	Template    string // text/template source, executed with the metadata
}

// Render executes the page template against meta. Every field the template
// names must exist on meta.
func (p StaticPage) Render(meta any) ([]byte, error) {
	tmpl, err := template.New(p.Path).Option("missingkey=error").Parse(strings.TrimSpace(p.Template))
	if err != nil {
		return nil, fmt.Errorf("parsing template for %s: %w", p.Path, err)
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, meta); err != nil {
		return nil, fmt.Errorf("executing template for %s: %w", p.Path, err)
	}
	return out.Bytes(), nil
}

// StaticPageHandler serves a page after Init has rendered it.
type StaticPageHandler interface {
	http.Handler
	Init(meta any) error
	Path() string
	Accept() string
}

// renderedPage keeps the output of the last Init. A failed Init leaves no
// output, and the page answers 500 until a later Init succeeds.
type renderedPage struct {
	page StaticPage
	body []byte
}

func NewStaticPage(page StaticPage) StaticPageHandler {
	return &renderedPage{page: page}
}

func (p *renderedPage) Path() string   { return p.page.Path }
func (p *renderedPage) Accept() string { return p.page.Accept }

func (p *renderedPage) Init(meta any) error {
	body, err := p.page.Render(meta)
	p.body = body
	return err
}

func (p *renderedPage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	telemetry.Request(r, "static page %s", p.page.Path)
	if p.body == nil {
		telemetry.Warn("%s was requested before it rendered", p.page.Path)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", p.page.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(p.body)))
	w.Write(p.body)
}
