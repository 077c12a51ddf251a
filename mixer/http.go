package mixer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/emojimix/shield"
)

// Version is reported by /health and the MCP server.
const Version = "1.0.0"

// Response bodies of /emoji and /update.
const (
	msgMissingPair       = "missing pair parameter"
	msgBadFormat         = "invalid pair: expected two emoji separated by '_'"
	msgNotFound          = "not found"
	msgAlreadyInProgress = "refresh already in progress"
)

// Handler returns the emojimix HTTP surface:
//
//	GET /emoji?pair=A_B  mash-up URL or a message, always 200 text/plain
//	GET /update          refresh the mapping (Basic Auth if admin.password_hash is set)
//	GET /status          JSON status
//	GET /health          liveness
//	    /mcp             MCP streamable HTTP endpoint
func (svc *Service) Handler() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	})
	r.Get("/emoji", svc.handleEmoji)
	r.With(shield.BasicAuth("admin", svc.cfg.Admin.PasswordHash)).Get("/update", svc.handleUpdate)
	r.Get("/status", svc.handleStatus)

	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "emojimix", Version: Version}, nil)
	svc.RegisterMCP(mcpSrv)
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))

	return r
}

func (svc *Service) handleEmoji(w http.ResponseWriter, r *http.Request) {
	log := shield.GetLogger(r.Context())
	if !r.URL.Query().Has("pair") {
		writeText(w, msgMissingPair)
		return
	}
	pair := r.URL.Query().Get("pair")

	url, err := svc.ResolvePair(r.Context(), pair)
	if err != nil {
		log.Info("emoji: lookup", "pair", pair, "error", err)
		writeText(w, lookupMessage(err))
		return
	}
	log.Debug("emoji: lookup", "pair", pair, "url", url)
	writeText(w, url)
}

func (svc *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	out, err := svc.Refresh(r.Context())
	if err != nil {
		shield.GetLogger(r.Context()).Warn("update: refresh failed", "error", err)
		writeText(w, "update failed: "+err.Error())
		return
	}
	writeText(w, refreshMessage(out))
}

func (svc *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	st, err := svc.Status(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func lookupMessage(err error) string {
	var rerr *RefreshError
	switch {
	case errors.Is(err, ErrInputFormat):
		return msgBadFormat
	case errors.Is(err, ErrNotFound):
		return msgNotFound
	case errors.As(err, &rerr):
		return "mapping unavailable: " + rerr.Error()
	case errors.Is(err, ErrNotInitialized):
		return "mapping unavailable: not initialized"
	default:
		return "lookup failed: " + err.Error()
	}
}

func refreshMessage(out *RefreshOutcome) string {
	if out.Status == RefreshAlreadyInProgress {
		return msgAlreadyInProgress
	}
	return fmt.Sprintf("mapping updated: refresh %s, %d records, %d skipped",
		out.RefreshID, out.Records, out.Skipped)
}

func writeText(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
