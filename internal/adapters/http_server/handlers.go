package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pdl_sync/internal/app"
	"pdl_sync/internal/domain"
)

type Handlers struct {
	Q         *app.QueryService
	Sync      *app.Orchestrator
	Scheduler *app.Scheduler // optional
	// RunCtx, when set, is the parent of triggered runs so a client hanging
	// up does not abort a sync. Cancelled on shutdown.
	RunCtx context.Context
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// syncResponse is the shape the client application expects from every
// trigger endpoint.
type syncResponse struct {
	Success  bool              `json:"success"`
	Total    int               `json:"total"`
	Inserted int               `json:"inserted"`
	Updated  int               `json:"updated"`
	Errors   int               `json:"errors"`
	Message  string            `json:"message"`
	Error    string            `json:"error,omitempty"`
	Report   *app.RunReport    `json:"report,omitempty"`
	Result   *app.AgencyResult `json:"result,omitempty"`
}

type statusResponse struct {
	app.Status
	AutoSync bool `json:"auto_sync"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Post("/v1/sync", h.syncAll)
	s.mux.Post("/v1/sync/agencies", h.syncAgencies)
	s.mux.Post("/v1/sync/properties", h.syncProperties)
	s.mux.Post("/v1/agencies/{key}/sync", h.syncProperties)

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(ReadTimeout))
		r.Get("/v1/sync/status", h.status)
		r.Get("/v1/agencies", h.listAgencies)
		r.Get("/v1/agencies/{key}/properties", h.listProperties)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

func (h *Handlers) runContext(r *http.Request) context.Context {
	if h.RunCtx != nil {
		// the run outlives the request but keeps its request id
		return zerolog.Ctx(r.Context()).WithContext(h.RunCtx)
	}
	return r.Context()
}

// failureStatus maps a run error to an HTTP status.
func failureStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAgencyNotFound):
		return http.StatusNotFound
	}
	if _, upstream := domain.KindOf(err); upstream {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fromSummary(s domain.Summary) syncResponse {
	return syncResponse{Total: s.Total, Inserted: s.Inserted, Updated: s.Updated, Errors: s.Errors}
}

func (h *Handlers) syncAll(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Sync.RunFull(h.runContext(r))
	resp := fromSummary(rep.Agencies)
	resp.Total += rep.Properties.Total
	resp.Inserted += rep.Properties.Inserted
	resp.Updated += rep.Properties.Updated
	resp.Errors += rep.Properties.Errors
	resp.Report = &rep
	if err != nil {
		resp.Error = err.Error()
		resp.Message = "sync failed"
		if errors.Is(err, domain.ErrRunInProgress) {
			resp.Message = "sync skipped: another run is in progress"
		}
		writeJSON(w, failureStatus(err), resp)
		return
	}
	resp.Success = true
	resp.Message = fmt.Sprintf("agencies: %s; properties: %s across %d agencies (%d failed)",
		rep.Agencies, rep.Properties, rep.AgenciesSynced, rep.AgenciesFailed)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) syncAgencies(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Sync.SyncAgencies(h.runContext(r))
	resp := fromSummary(rep.Agencies)
	resp.Report = &rep
	if err != nil {
		resp.Error = err.Error()
		resp.Message = "agency sync failed"
		writeJSON(w, failureStatus(err), resp)
		return
	}
	resp.Success = true
	resp.Message = fmt.Sprintf("Synced agencies: %s", rep.Agencies)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) syncProperties(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if key == "" {
		key = strings.TrimSpace(r.URL.Query().Get("key"))
	}
	if key == "" {
		writeJSON(w, http.StatusBadRequest, syncResponse{Error: "agency key is required", Message: "missing key"})
		return
	}

	res, err := h.Sync.SyncAgencyProperties(h.runContext(r), key)
	resp := fromSummary(res.Properties)
	resp.Result = &res
	if err != nil {
		resp.Error = err.Error()
		resp.Message = fmt.Sprintf("property sync for %s failed", key)
		writeJSON(w, failureStatus(err), resp)
		return
	}
	resp.Success = true
	switch res.Result {
	case app.ResultSkipped:
		resp.Message = fmt.Sprintf("No properties synced for %s: %s", key, res.Reason)
	default:
		resp.Message = fmt.Sprintf("Synced properties for %s: %s", res.Agency, res.Properties)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	st := statusResponse{Status: h.Sync.Status()}
	if h.Scheduler != nil {
		st.AutoSync = h.Scheduler.Running()
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) listAgencies(w http.ResponseWriter, r *http.Request) {
	out, err := h.Q.ListAgencies(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("list agencies failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not list agencies")
		return
	}
	writeCached(w, r, out)
}

func (h *Handlers) listProperties(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	out, err := h.Q.ListProperties(r.Context(), key)
	if errors.Is(err, domain.ErrAgencyNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "agency not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("list properties failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "could not list properties")
		return
	}
	writeCached(w, r, out)
}
