package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/recall/internal/config"
	"github.com/hyperjump/recall/internal/keyword"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/search"
	"github.com/hyperjump/recall/internal/storage"
	"github.com/hyperjump/recall/internal/watcher"
	"github.com/hyperjump/recall/pkg/utils"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var input models.MessageInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, "Missing ID")
		return
	}
	msg := input.ToMessage()
	s.logger.Debug("ingest request",
		zap.String("id", msg.ID),
		zap.String("chat", msg.ChatJID),
		zap.String("sender", msg.Sender))

	// The gateway does not wait for a retry; a disconnect must not abort a queued ingest.
	ctx := context.WithoutCancel(r.Context())
	outcome, err := s.indexer.Ingest(ctx, msg)
	if err != nil {
		s.logger.Error("ingest failed", zap.String("id", msg.ID), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	s.logger.Debug("ingest done", zap.String("id", msg.ID), zap.String("outcome", string(outcome)))
	s.respondJSON(w, http.StatusOK, models.IngestResponse{Status: models.StatusAck, ID: msg.ID})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	queryID := uuid.NewString()
	start := time.Now()
	s.logger.Info("question received",
		zap.String("query_id", queryID),
		zap.String("query", utils.Truncate(query, 120)))

	answer := s.engine.Answer(r.Context(), query)

	s.logger.Info("question answered",
		zap.String("query_id", queryID),
		zap.Duration("took", time.Since(start)))
	s.respondJSON(w, http.StatusOK, models.ChatResponse{
		Status:  models.StatusSuccess,
		Answer:  answer,
		QueryID: queryID,
	})
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := s.storage.GetMessage(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "message not found")
		return
	}
	if err != nil {
		s.logger.Error("get message failed", zap.String("id", id), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, msg)
}

func (s *Server) handleFindMessages(w http.ResponseWriter, r *http.Request) {
	if s.finder == nil {
		s.respondError(w, http.StatusNotImplemented, "keyword search not enabled")
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	opts := &keyword.SearchOptions{ChatJID: q.Get("chat")}
	if v := q.Get("fuzzy"); v != "" {
		fuzzy, err := strconv.ParseBool(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid fuzzy flag")
			return
		}
		opts.FuzzyEnabled = fuzzy
	}

	resp, err := s.finder.Find(r.Context(), q.Get("q"), limit, opts)
	if errors.Is(err, search.ErrEmptyQuery) {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("find messages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	msgCount, err := s.storage.CountMessages(ctx)
	if err != nil {
		s.logger.Error("status: count messages failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	chatCount, err := s.storage.CountChats(ctx)
	if err != nil {
		s.logger.Error("status: count chats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	st := models.StatusResponse{
		IndexSize:    s.vectorIndex.Size(),
		Dimensions:   s.vectorIndex.Dimensions(),
		Messages:     msgCount,
		Chats:        chatCount,
		IndexPath:    s.config.Storage.IndexPath,
		DatabasePath: s.config.Storage.DatabasePath,
	}
	paths := append(storage.DatabaseFiles(s.config.Storage.DatabasePath),
		s.config.Storage.IndexPath, s.config.Storage.KeywordIndexPath)
	if n, err := storage.DiskUsageBytes(paths...); err == nil {
		st.DiskBytes = n
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": st,
		"config": map[string]interface{}{
			"chat_model":        s.config.LLM.ChatModel,
			"embedding_model":   s.config.LLM.EmbeddingModel,
			"top_k":             s.config.RAG.TopK,
			"max_context_chars": s.config.RAG.MaxContextChars,
			"inbox_enabled":     s.inbox != nil,
			"keyword_enabled":   s.finder != nil,
		},
	})
}

func (s *Server) handleInboxList(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "inbox not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.inbox.Directories()})
}

type inboxAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleInboxAdd(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "inbox not enabled")
		return
	}
	var req inboxAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.inbox.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("inbox add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistInbox()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleInboxRemove(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		s.respondError(w, http.StatusNotImplemented, "inbox not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.inbox.RemoveDirectory(abs); err != nil {
		if errors.Is(err, watcher.ErrNotWatched) {
			s.respondError(w, http.StatusNotFound, "directory not watched")
			return
		}
		s.logger.Error("inbox remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistInbox()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistInbox writes the current inbox directories back to the config file.
func (s *Server) persistInbox() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Inbox.Directories = s.inbox.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist inbox config", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
