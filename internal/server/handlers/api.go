package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/deadlinecal/deadlinecal/internal/core"
	"github.com/deadlinecal/deadlinecal/internal/core/store"
	apperrors "github.com/deadlinecal/deadlinecal/internal/errors"
)

// GroupsResponse is the body of GET /api/groups.
type GroupsResponse struct {
	Groups []string `json:"groups"`
}

// DeadlineView is the JSON form of a deadline.
type DeadlineView struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Due             string `json:"due"`
	AllDay          bool   `json:"all_day"`
	Description     string `json:"description,omitempty"`
	Category        string `json:"category,omitempty"`
	RecommendedDate string `json:"recommended_date,omitempty"`
}

// DeadlinesResponse is the body of GET /api/deadlines.
type DeadlinesResponse struct {
	Group     string         `json:"group"`
	Count     int            `json:"count"`
	Deadlines []DeadlineView `json:"deadlines"`
}

// APIHandler serves the JSON read API.
type APIHandler struct {
	Source DeadlineSource
}

// NewAPIHandler creates an API handler.
func NewAPIHandler(source DeadlineSource) *APIHandler {
	return &APIHandler{Source: source}
}

// Groups lists the categories that have active deadlines.
func (h *APIHandler) Groups(w http.ResponseWriter, r *http.Request) {
	categories, err := h.Source.ListCategories(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	if categories == nil {
		categories = []string{}
	}
	writeJSON(w, GroupsResponse{Groups: categories})
}

// Deadlines lists active deadlines. ?group=ALL or no group returns every
// category.
func (h *APIHandler) Deadlines(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	category := ""
	if group != "" && !strings.EqualFold(group, AllFeed) {
		parsed, ok := ParseFeedName(group)
		if !ok {
			respondWithError(w, r, apperrors.NewInvalidInputError("invalid group name"))
			return
		}
		category = parsed
	}

	records, err := h.Source.ListActive(r.Context(), store.DeadlineQuery{Category: category})
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	response := DeadlinesResponse{
		Group:     AllFeed,
		Deadlines: make([]DeadlineView, 0, len(records)),
	}
	if category != "" {
		response.Group = category
	}
	for _, record := range records {
		response.Deadlines = append(response.Deadlines, viewOf(record))
	}
	response.Count = len(response.Deadlines)
	writeJSON(w, response)
}

func viewOf(d core.Deadline) DeadlineView {
	view := DeadlineView{
		ID:          d.ID,
		Title:       d.Title,
		Due:         d.DueString(),
		AllDay:      d.AllDay,
		Description: d.Description,
		Category:    d.Category,
	}
	if d.RecommendedDate != nil {
		view.RecommendedDate = d.RecommendedDate.Format(core.DateLayout)
	}
	return view
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}
