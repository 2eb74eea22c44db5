package handlers

import (
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/deadlinecal/deadlinecal/internal/feed"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Subscribe in your calendar app to receive deadline updates automatically.</p>
<ul>
{{- range .Feeds}}
<li><strong>{{.Label}}</strong>: <a href="{{.Subscribe}}">subscribe</a> or <a href="{{.Download}}">download</a></li>
{{- end}}
</ul>
{{- if .LastUpdated}}
<p>Last updated {{.LastUpdated}}</p>
{{- end}}
</body>
</html>
`))

type indexFeed struct {
	Label     string
	Subscribe template.URL
	Download  string
}

type indexPage struct {
	Title       string
	Feeds       []indexFeed
	LastUpdated string
}

// IndexHandler renders the landing page with one subscribe link per group.
type IndexHandler struct {
	Source     DeadlineSource
	Renderer   *feed.Renderer
	PublicHost string
}

// NewIndexHandler creates an index handler. publicHost overrides the request
// Host when building links.
func NewIndexHandler(source DeadlineSource, renderer *feed.Renderer, publicHost string) *IndexHandler {
	return &IndexHandler{Source: source, Renderer: renderer, PublicHost: strings.TrimSpace(publicHost)}
}

func (h *IndexHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Source.ListCategories(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	updated, err := h.Source.LastUpdated(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	host := h.PublicHost
	scheme := "https"
	if host == "" {
		host = r.Host
		if r.TLS == nil {
			scheme = "http"
		}
	}

	page := indexPage{Title: h.Renderer.CalendarName("")}
	page.Feeds = append(page.Feeds, buildFeed(scheme, host, "All deadlines", ""))
	for _, category := range categories {
		page.Feeds = append(page.Feeds, buildFeed(scheme, host, h.Renderer.CalendarName(category), category))
	}
	if updated != nil {
		page.LastUpdated = updated.UTC().Format(time.RFC1123)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = indexTemplate.Execute(w, page)
}

func buildFeed(scheme, host, label, category string) indexFeed {
	path := "/calendar/" + FeedFilename(category)
	return indexFeed{
		Label: label,
		// webcal is not on html/template's safe scheme list.
		Subscribe: template.URL("webcal://" + host + path),
		Download:  scheme + "://" + host + path,
	}
}

// Favicon answers browser favicon probes without touching the store.
func Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
