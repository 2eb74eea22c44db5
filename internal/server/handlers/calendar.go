package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
	"github.com/deadlinecal/deadlinecal/internal/feed"
	"github.com/deadlinecal/deadlinecal/internal/metrics"
	"github.com/deadlinecal/deadlinecal/internal/observability"
	"github.com/deadlinecal/deadlinecal/internal/server/middleware"
)

// AllFeed names the feed that carries every category.
const AllFeed = "all"

var groupPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// CalendarHandler serves rendered iCalendar feeds.
type CalendarHandler struct {
	Source   DeadlineSource
	Renderer *feed.Renderer
}

// NewCalendarHandler creates a calendar handler.
func NewCalendarHandler(source DeadlineSource, renderer *feed.Renderer) *CalendarHandler {
	return &CalendarHandler{Source: source, Renderer: renderer}
}

// ParseFeedName maps a path segment such as "all.ics" or "cm1.ics" to a
// category. The empty category means all. ok is false for names that
// cannot be a group.
func ParseFeedName(segment string) (category string, ok bool) {
	name := strings.TrimSpace(segment)
	if len(name) > len(".ics") && strings.EqualFold(name[len(name)-len(".ics"):], ".ics") {
		name = name[:len(name)-len(".ics")]
	}
	if name == "" || strings.EqualFold(name, AllFeed) {
		return "", true
	}
	if !groupPattern.MatchString(name) {
		return "", false
	}
	return core.NormalizeCategory(name), true
}

// FeedFilename is the attachment name for category.
func FeedFilename(category string) string {
	if category == "" {
		return AllFeed + ".ics"
	}
	return strings.ToLower(category) + ".ics"
}

// ServeAll handles /calendar.
func (h *CalendarHandler) ServeAll(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "")
}

// ServeFeed handles /calendar/*. Only the last path segment names the
// feed, so /calendar/2026/cm1.ics serves the CM1 feed and /calendar/ the
// combined one.
func (h *CalendarHandler) ServeFeed(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	category, ok := ParseFeedName(rest[strings.LastIndex(rest, "/")+1:])
	if !ok {
		respondWithError(w, r, apperrors.NewNotFoundError("unknown calendar feed"))
		return
	}
	h.serve(w, r, category)
}

func (h *CalendarHandler) serve(w http.ResponseWriter, r *http.Request, category string) {
	start := time.Now()
	feedLabel := AllFeed
	if category != "" {
		feedLabel = "group"
	}

	records, err := h.Source.ListActive(r.Context(), store.DeadlineQuery{Category: category})
	if err != nil {
		metrics.RecordFeedRender(feedLabel, "unavailable", 0, time.Since(start))
		respondWithError(w, r, err)
		return
	}

	doc, err := h.Renderer.Render(records, feed.Options{Category: category})
	if err != nil {
		metrics.RecordFeedRender(feedLabel, "error", 0, time.Since(start))
		respondWithError(w, r, err)
		return
	}

	if doc.Skipped > 0 {
		observability.Warn("Skipped invalid deadline records",
			zap.String("feed", FeedFilename(category)),
			zap.Int("skipped", doc.Skipped),
			zap.Errors("errors", doc.Errors),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
		)
	}
	metrics.RecordFeedRender(feedLabel, "ok", doc.Skipped, time.Since(start))

	header := w.Header()
	header.Set("Content-Type", feed.ContentType)
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", FeedFilename(category)))
	header.Set("Cache-Control", "no-cache, must-revalidate")
	header.Set("Expires", "Thu, 01 Jan 1970 00:00:00 GMT")
	header.Set("Content-Length", strconv.Itoa(len(doc.Body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(doc.Body)
	}
}
