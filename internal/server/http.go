package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gridsync/engine/internal/export"
	"gridsync/engine/internal/patch"
	"gridsync/engine/internal/store"
	"gridsync/engine/internal/table"
	"gridsync/engine/internal/util"
)

type HTTPServer struct {
	store      store.TableStore
	hub        *Hub
	corsOrigin string
	upgrader   websocket.Upgrader
}

func NewHTTPServer(tableStore store.TableStore, hub *Hub, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		store:      tableStore,
		hub:        hub,
		corsOrigin: corsOrigin,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	parts := splitPath(r.URL.Path)

	// /organizations/{org}/batch-tables
	if len(parts) == 3 && parts[0] == "organizations" && parts[2] == "batch-tables" {
		if r.Method == http.MethodPost {
			s.handleCreateTable(w, r, parts[1])
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	// /organizations/{org}/batch-tables/{table}
	if len(parts) == 4 && parts[0] == "organizations" && parts[2] == "batch-tables" {
		orgID, tableID := parts[1], parts[3]
		switch r.Method {
		case http.MethodGet:
			s.handleGetTable(w, r, orgID, tableID)
		case http.MethodPatch:
			s.handlePatchTable(w, r, orgID, tableID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	// /organizations/{org}/batch-tables/{table}/watch
	// /organizations/{org}/batch-tables/{table}/export
	if len(parts) == 5 && parts[0] == "organizations" && parts[2] == "batch-tables" {
		switch {
		case parts[4] == "watch" && r.Method == http.MethodGet:
			s.handleWatch(w, r, parts[1], parts[3])
		case parts[4] == "export" && r.Method == http.MethodGet:
			s.handleExport(w, r, parts[1], parts[3])
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleCreateTable(w http.ResponseWriter, r *http.Request, orgID string) {
	var raw table.RawTable
	if err := decodeBody(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	raw.OrganizationID = orgID
	if raw.ID == "" {
		raw.ID = util.NewTableID()
	}

	if err := s.store.CreateTable(r.Context(), raw); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
			return
		}
		log.Printf("create table %s/%s: %v", orgID, raw.ID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Create failed", nil)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": raw.ID})
}

func (s *HTTPServer) handleGetTable(w http.ResponseWriter, r *http.Request, orgID, tableID string) {
	raw, err := s.store.GetTable(r.Context(), orgID, tableID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Table not found", nil)
			return
		}
		log.Printf("get table %s/%s: %v", orgID, tableID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Fetch failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, raw)
}

func (s *HTTPServer) handlePatchTable(w http.ResponseWriter, r *http.Request, orgID, tableID string) {
	var body struct {
		Updates json.RawMessage `json:"updates"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	ops, err := patch.DecodeOps(body.Updates)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_UPDATES", err.Error(), nil)
		return
	}
	if len(ops) == 0 {
		writeJSON(w, http.StatusOK, map[string]any{"updates": []any{}})
		return
	}

	confirmed, err := s.store.ApplyUpdates(r.Context(), orgID, tableID, ops, userFrom(r))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Table not found", nil)
		case errors.Is(err, store.ErrConflict):
			writeError(w, http.StatusConflict, "CONFLICT", err.Error(), nil)
		default:
			log.Printf("apply updates %s/%s: %v", orgID, tableID, err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Update failed", nil)
		}
		return
	}

	encoded, err := patch.EncodeOps(confirmed)
	if err != nil {
		log.Printf("encode confirmations %s/%s: %v", orgID, tableID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Update failed", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updates": json.RawMessage(encoded)})

	if s.hub != nil {
		s.hub.Broadcast(orgID, tableID, encoded)
	}
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, orgID, tableID string) {
	raw, err := s.store.GetTable(r.Context(), orgID, tableID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Table not found", nil)
			return
		}
		log.Printf("export %s/%s: %v", orgID, tableID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Export failed", nil)
		return
	}

	name := raw.Name
	if name == "" {
		name = tableID
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".xlsx"))
	if err := export.WriteXLSX(table.Normalize(raw), w); err != nil {
		// Headers are out by now; all we can do is log.
		log.Printf("export write %s/%s: %v", orgID, tableID, err)
	}
}

func (s *HTTPServer) handleWatch(w http.ResponseWriter, r *http.Request, orgID, tableID string) {
	if _, err := s.store.GetTable(r.Context(), orgID, tableID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Table not found", nil)
			return
		}
		log.Printf("watch %s/%s: %v", orgID, tableID, err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Watch failed", nil)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		log.Printf("watch upgrade %s/%s: %v", orgID, tableID, err)
		return
	}
	watch := &watcher{room: roomKey(orgID, tableID), conn: conn, send: make(chan []byte, 16)}
	s.hub.register <- watch
	go watch.writePump()
	go watch.readPump(s.hub)
}

// userFrom resolves the acting user for audit stamps. There is no account
// system here; callers identify themselves with a header.
func userFrom(r *http.Request) string {
	if user := strings.TrimSpace(r.Header.Get("X-User")); user != "" {
		return user
	}
	return "anonymous"
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		if websocket.IsWebSocketUpgrade(r) {
			// The hijacked connection cannot go through the status
			// recorder or the JSON headers.
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-User, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
