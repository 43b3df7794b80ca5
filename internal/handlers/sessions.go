package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jwebster45206/narrative-engine/internal/logger"
	"github.com/jwebster45206/narrative-engine/internal/services/events"
	"github.com/jwebster45206/narrative-engine/pkg/narrative"
	"github.com/jwebster45206/narrative-engine/pkg/storage"
)

const maxBodyBytes = 1 << 20

var errSessionNotFound = errors.New("session not found")

// NodeView is the presentable part of a story node.
type NodeView struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	BackgroundRef string `json:"background_ref,omitempty"`
	Terminal      bool   `json:"terminal"`
}

// ChoiceView is one currently available choice. Index is what
// POST /choices expects.
type ChoiceView struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// SessionView is the response body for every session operation.
type SessionView struct {
	ID      uuid.UUID    `json:"id"`
	StoryID string       `json:"story_id"`
	Title   string       `json:"title"`
	Node    *NodeView    `json:"node"`
	Choices []ChoiceView `json:"choices"`
	DeadEnd bool         `json:"dead_end"`
}

type CreateSessionRequest struct {
	Story string `json:"story"` // story filename, as listed by /v1/stories
}

type SelectChoiceRequest struct {
	Index *int `json:"index"`
}

type PatchStateRequest struct {
	Flags map[string]bool    `json:"flags,omitempty"`
	Stats map[string]float64 `json:"stats,omitempty"`
}

// SessionHandler runs play sessions over HTTP. Each request rebuilds an
// engine from the stored snapshot, applies one operation, and saves the
// result.
type SessionHandler struct {
	storage     storage.Storage
	broadcaster *events.Broadcaster // nil disables event publishing
	logger      *slog.Logger
	locks       [64]sync.Mutex
}

func NewSessionHandler(logger *slog.Logger, storage storage.Storage, broadcaster *events.Broadcaster) *SessionHandler {
	return &SessionHandler{
		storage:     storage,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// ServeHTTP handles HTTP requests for session operations
// Routes:
// POST   /v1/sessions                - Create a session and start its story
// GET    /v1/sessions/{id}           - Current node and available choices
// DELETE /v1/sessions/{id}           - Delete a session
// POST   /v1/sessions/{id}/choices   - Select an available choice by index
// PATCH  /v1/sessions/{id}/state     - Set flags and stats
// GET    /v1/sessions/{id}/snapshot  - Export the session snapshot
// PUT    /v1/sessions/{id}/snapshot  - Restore the session from a snapshot
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/sessions"), "/")
	if rest == "" {
		if r.Method != http.MethodPost {
			writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed. Only POST is supported.")
			return
		}
		h.handleCreate(w, r)
		return
	}

	parts := strings.Split(rest, "/")
	id, err := uuid.Parse(parts[0])
	if err != nil {
		h.logger.Warn("Invalid session ID", "id", parts[0], "error", err)
		writeError(w, h.logger, http.StatusBadRequest, "Invalid session ID format")
		return
	}

	var sub string
	if len(parts) == 2 {
		sub = parts[1]
	} else if len(parts) > 2 {
		writeError(w, h.logger, http.StatusNotFound, "Not found")
		return
	}

	switch {
	case sub == "" && r.Method == http.MethodGet:
		h.handleRead(w, r, id)
	case sub == "" && r.Method == http.MethodDelete:
		h.handleDelete(w, r, id)
	case sub == "choices" && r.Method == http.MethodPost:
		h.handleChoice(w, r, id)
	case sub == "state" && r.Method == http.MethodPatch:
		h.handlePatchState(w, r, id)
	case sub == "snapshot" && r.Method == http.MethodGet:
		h.handleGetSnapshot(w, r, id)
	case sub == "snapshot" && r.Method == http.MethodPut:
		h.handlePutSnapshot(w, r, id)
	case sub == "" || sub == "choices" || sub == "state" || sub == "snapshot":
		h.logger.Warn("Method not allowed for session endpoint", "method", r.Method, "path", r.URL.Path)
		writeError(w, h.logger, http.StatusMethodNotAllowed, "Method not allowed")
	default:
		writeError(w, h.logger, http.StatusNotFound, "Not found")
	}
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Story = strings.TrimSpace(req.Story)
	if req.Story == "" {
		writeError(w, h.logger, http.StatusBadRequest, "story is required")
		return
	}

	ctx := r.Context()
	id := uuid.New()
	log := logger.WithSessionID(h.logger, id)

	e, err := h.engineFor(ctx, log, req.Story)
	if err != nil {
		h.fail(w, log, err, "create session")
		return
	}
	h.attach(ctx, id, e)
	if err := e.StartStory(); err != nil {
		h.fail(w, log, err, "start story")
		return
	}

	sess := &storage.Session{ID: id, StoryFile: req.Story}
	if err := h.save(ctx, sess, e); err != nil {
		h.fail(w, log, err, "save session")
		return
	}

	log.Info("Session created", "story_file", req.Story, "story_id", e.Story().ID)
	writeJSON(w, h.logger, http.StatusCreated, newSessionView(id, e))
}

func (h *SessionHandler) handleRead(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	log := logger.WithSessionID(h.logger, id)
	_, e, err := h.open(r.Context(), log, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newSessionView(id, e))
}

func (h *SessionHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	unlock := h.lock(id)
	defer unlock()

	ctx := r.Context()
	log := logger.WithSessionID(h.logger, id)

	sess, err := h.storage.LoadSession(ctx, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	if sess == nil {
		h.fail(w, log, errSessionNotFound, "delete session")
		return
	}
	if err := h.storage.DeleteSession(ctx, id); err != nil {
		h.fail(w, log, err, "delete session")
		return
	}
	if h.broadcaster != nil {
		_ = h.broadcaster.PublishSessionDeleted(ctx, id)
	}

	log.Info("Session deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) handleChoice(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req SelectChoiceRequest
	if err := decodeBody(w, r, &req); err != nil || req.Index == nil {
		writeError(w, h.logger, http.StatusBadRequest, "index is required")
		return
	}

	unlock := h.lock(id)
	defer unlock()

	ctx := r.Context()
	log := logger.WithSessionID(h.logger, id)

	sess, e, err := h.open(ctx, log, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	h.attach(ctx, id, e)

	if err := e.SelectChoice(*req.Index); err != nil {
		h.fail(w, log, err, "select choice")
		return
	}
	if err := h.save(ctx, sess, e); err != nil {
		h.fail(w, log, err, "save session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newSessionView(id, e))
}

func (h *SessionHandler) handlePatchState(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	var req PatchStateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}

	unlock := h.lock(id)
	defer unlock()

	ctx := r.Context()
	log := logger.WithSessionID(h.logger, id)

	sess, e, err := h.open(ctx, log, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	h.attach(ctx, id, e)

	for _, k := range sortedKeys(req.Flags) {
		e.SetFlag(k, req.Flags[k])
	}
	for _, k := range sortedKeys(req.Stats) {
		e.SetStat(k, req.Stats[k])
	}

	if err := h.save(ctx, sess, e); err != nil {
		h.fail(w, log, err, "save session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, newSessionView(id, e))
}

func (h *SessionHandler) handleGetSnapshot(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	log := logger.WithSessionID(h.logger, id)
	_, e, err := h.open(r.Context(), log, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	writeJSON(w, h.logger, http.StatusOK, e.CreateSnapshot())
}

func (h *SessionHandler) handlePutSnapshot(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid request body")
		return
	}
	snap, err := narrative.UnmarshalSnapshot(body)
	if err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid snapshot")
		return
	}

	unlock := h.lock(id)
	defer unlock()

	ctx := r.Context()
	log := logger.WithSessionID(h.logger, id)

	sess, err := h.storage.LoadSession(ctx, id)
	if err != nil {
		h.fail(w, log, err, "load session")
		return
	}
	if sess == nil {
		h.fail(w, log, errSessionNotFound, "restore snapshot")
		return
	}

	// The current position is irrelevant; the story alone is enough to
	// check the incoming snapshot against.
	e, err := h.engineFor(ctx, log, sess.StoryFile)
	if err != nil {
		h.fail(w, log, err, "load story")
		return
	}
	h.attach(ctx, id, e)
	if err := e.RestoreSnapshot(snap); err != nil {
		h.fail(w, log, err, "restore snapshot")
		return
	}

	if err := h.save(ctx, sess, e); err != nil {
		h.fail(w, log, err, "save session")
		return
	}
	log.Info("Session restored from snapshot", "node_id", snap.NodeID)
	writeJSON(w, h.logger, http.StatusOK, newSessionView(id, e))
}

// engineFor creates an engine with the named story loaded.
func (h *SessionHandler) engineFor(ctx context.Context, log *slog.Logger, storyFile string) (*narrative.Engine, error) {
	s, err := h.storage.GetStory(ctx, storyFile)
	if err != nil {
		return nil, err
	}
	e := narrative.NewEngine(narrative.WithLogger(log))
	if err := e.LoadStory(s); err != nil {
		return nil, err
	}
	return e, nil
}

// open loads a session and rebuilds its engine at the saved position.
func (h *SessionHandler) open(ctx context.Context, log *slog.Logger, id uuid.UUID) (*storage.Session, *narrative.Engine, error) {
	sess, err := h.storage.LoadSession(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if sess == nil {
		return nil, nil, errSessionNotFound
	}

	e, err := h.engineFor(ctx, log, sess.StoryFile)
	if err != nil {
		return nil, nil, err
	}
	if sess.Snapshot == nil {
		err = e.StartStory()
	} else {
		err = e.RestoreSnapshot(sess.Snapshot)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resume session: %w", err)
	}
	return sess, e, nil
}

// attach publishes the engine's events from here on. Call it after open so
// the resume itself is not broadcast.
func (h *SessionHandler) attach(ctx context.Context, id uuid.UUID, e *narrative.Engine) {
	if h.broadcaster != nil {
		h.broadcaster.Attach(ctx, id, e)
	}
}

func (h *SessionHandler) save(ctx context.Context, sess *storage.Session, e *narrative.Engine) error {
	sess.Snapshot = e.CreateSnapshot()
	return h.storage.SaveSession(ctx, sess)
}

// lock serialises mutations of one session within this process.
func (h *SessionHandler) lock(id uuid.UUID) func() {
	mu := &h.locks[int(id[15])%len(h.locks)]
	mu.Lock()
	return mu.Unlock
}

func (h *SessionHandler) fail(w http.ResponseWriter, log *slog.Logger, err error, action string) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		log.Error("Failed to "+action, "error", err)
		writeError(w, h.logger, status, "Failed to "+action)
		return
	}
	log.Debug("Rejected session operation", "action", action, "status", status, "error", err)
	writeError(w, h.logger, status, err.Error())
}

func newSessionView(id uuid.UUID, e *narrative.Engine) SessionView {
	view := SessionView{
		ID:      id,
		Choices: []ChoiceView{},
		DeadEnd: e.IsDeadEnd(),
	}
	if s := e.Story(); s != nil {
		view.StoryID = s.ID
		view.Title = s.Title
	}
	if n := e.CurrentNode(); n != nil {
		view.Node = &NodeView{
			ID:            n.ID,
			Text:          n.Text,
			BackgroundRef: n.BackgroundRef,
			Terminal:      n.IsTerminal(),
		}
	}
	for i, c := range e.AvailableChoices() {
		view.Choices = append(view.Choices, ChoiceView{Index: i, Text: c.Text})
	}
	return view
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
