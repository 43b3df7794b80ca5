package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jwebster45206/narrative-engine/pkg/storage"
	"github.com/jwebster45206/narrative-engine/pkg/story"
)

// StoryResponse is a story together with any authoring problems found in it.
type StoryResponse struct {
	Story  *story.Story  `json:"story"`
	Issues []story.Issue `json:"issues"`
}

type StoryHandler struct {
	log     *slog.Logger
	storage storage.Storage
}

func NewStoryHandler(log *slog.Logger, storage storage.Storage) *StoryHandler {
	return &StoryHandler{
		log:     log,
		storage: storage,
	}
}

// ServeHTTP handles story catalogue requests
// Routes:
// GET /v1/stories        - Map of story titles to filenames
// GET /v1/stories/{file} - One story with its validation issues
func (h *StoryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, h.log, http.StatusMethodNotAllowed, "Method not allowed. Only GET is supported.")
		return
	}

	filename := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/stories"), "/")
	if filename == "" {
		h.handleList(w, r)
		return
	}
	h.handleGet(w, r, filename)
}

func (h *StoryHandler) handleList(w http.ResponseWriter, r *http.Request) {
	stories, err := h.storage.ListStories(r.Context())
	if err != nil {
		h.log.Error("Failed to list stories", "error", err)
		writeError(w, h.log, http.StatusInternalServerError, "Failed to list stories")
		return
	}
	writeJSON(w, h.log, http.StatusOK, stories)
}

func (h *StoryHandler) handleGet(w http.ResponseWriter, r *http.Request, filename string) {
	if strings.Contains(filename, "..") || strings.Contains(filename, "/") {
		writeError(w, h.log, http.StatusBadRequest, "Invalid filename")
		return
	}

	s, err := h.storage.GetStory(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrStoryNotFound) {
			writeError(w, h.log, http.StatusNotFound, "Story not found")
			return
		}
		h.log.Error("Failed to get story", "error", err, "filename", filename)
		writeError(w, h.log, http.StatusUnprocessableEntity, err.Error())
		return
	}

	issues := s.Validate()
	if issues == nil {
		issues = []story.Issue{}
	}
	writeJSON(w, h.log, http.StatusOK, StoryResponse{Story: s, Issues: issues})
}
