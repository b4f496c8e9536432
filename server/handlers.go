package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/daveroberts0321/flagfilter/audience"
	"github.com/daveroberts0321/flagfilter/parser/filterquery"
	"github.com/daveroberts0321/flagfilter/spec/openapi"
)

type errorResponse struct {
	Error       string   `json:"error"`
	Suggestions []string `json:"suggestions,omitempty"`
}

type matchRequest struct {
	Returns audience.Returns    `json:"returns"`
	Context filterquery.Context `json:"context"`
}

type evaluateRequest struct {
	Context filterquery.Context `json:"context"`
}

type checkRequest struct {
	Filter string `json:"filter"`
}

type checkResponse struct {
	Valid     bool     `json:"valid"`
	Filter    string   `json:"filter,omitempty"`
	Accessors []string `json:"accessors,omitempty"`
	Error     string   `json:"error,omitempty"`
	Offset    *int     `json:"offset,omitempty"`
}

type audienceRequest struct {
	AudienceID  string  `json:"audienceId"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Filter      string  `json:"filter"`
}

func (req audienceRequest) toAudience(app string) audience.Audience {
	a := audience.Audience{AppID: app, AudienceID: req.AudienceID, Name: req.Name, Filter: req.Filter}
	if req.Description != nil {
		a.Description = *req.Description
	}
	return a
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// bind decodes a request body that must satisfy the named schema. On
// failure it answers 400 and returns false.
func (s *Server) bind(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	err := s.schemas.decode(schema, http.MaxBytesReader(w, r.Body, maxBodyBytes), dst)
	if err != nil {
		s.logger.Debug("invalid params", "url", r.URL.Path, "error", err)
		writeError(w, http.StatusBadRequest, "invalid params")
		return false
	}
	return true
}

// storeError maps audience errors onto HTTP responses.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	var nf *audience.NotFoundError
	switch {
	case errors.As(err, &nf):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Suggestions: nf.Suggestions})
	case errors.Is(err, audience.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, audience.ErrExists):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, filterquery.ErrBadFilter):
		filterErrors.Add(1)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		s.logger.Error("store failure", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) openAPIDoc(w http.ResponseWriter, r *http.Request) {
	doc, err := openapi.Generate()
	if err != nil {
		s.logger.Error("failed to render openapi document", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	io.WriteString(w, doc)
}

func (s *Server) checkFilter(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !s.bind(w, r, "check", &req) {
		return
	}
	q, err := filterquery.Compile(req.Filter)
	if err != nil {
		filterErrors.Add(1)
		resp := checkResponse{Error: err.Error()}
		var serr *filterquery.SyntaxError
		if errors.As(err, &serr) {
			off := serr.Offset
			resp.Offset = &off
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{
		Valid:     true,
		Filter:    q.String(),
		Accessors: filterquery.Accessors(q.Root),
	})
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if !s.bind(w, r, "match", &req) {
		return
	}
	res, err := s.matcher.Match(appID(r.Context()), req.Returns, req.Context)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid params")
		return
	}
	matches.Add(1)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listAudiences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ExpandedAudiences(appID(r.Context())))
}

func (s *Server) getAudience(w http.ResponseWriter, r *http.Request) {
	s.getAudienceByID(w, appID(r.Context()), r.PathValue("audienceID"))
}

func (s *Server) createAudience(w http.ResponseWriter, r *http.Request) {
	var req audienceRequest
	if !s.bind(w, r, "createAudience", &req) {
		return
	}
	app := appID(r.Context())
	if _, err := s.store.Create(req.toAudience(app)); err != nil {
		s.storeError(w, err)
		return
	}
	s.getAudienceByID(w, app, req.AudienceID)
}

func (s *Server) updateAudience(w http.ResponseWriter, r *http.Request) {
	var req audienceRequest
	if !s.bind(w, r, "updateAudience", &req) {
		return
	}
	app := appID(r.Context())
	req.AudienceID = r.PathValue("audienceID")
	if _, err := s.store.Update(req.toAudience(app)); err != nil {
		s.storeError(w, err)
		return
	}
	s.getAudienceByID(w, app, req.AudienceID)
}

func (s *Server) deleteAudience(w http.ResponseWriter, r *http.Request) {
	app, id := appID(r.Context()), r.PathValue("audienceID")
	existing, err := s.store.Audience(app, id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if err := s.store.Delete(app, id); err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *Server) getAudienceByID(w http.ResponseWriter, app, id string) {
	a, err := s.store.Audience(app, id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) evaluateAudiences(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.bind(w, r, "evaluate", &req) {
		return
	}
	matches.Add(1)
	writeJSON(w, http.StatusOK, s.matcher.MatchAudiences(appID(r.Context()), req.Context))
}

func (s *Server) listFlags(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ExpandedFlags(appID(r.Context())))
}

func (s *Server) evaluateFlags(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.bind(w, r, "evaluate", &req) {
		return
	}
	matches.Add(1)
	writeJSON(w, http.StatusOK, s.matcher.MatchFlags(appID(r.Context()), req.Context))
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.ExpandedOverrides(appID(r.Context())))
}

func (s *Server) evaluateOverrides(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if !s.bind(w, r, "evaluate", &req) {
		return
	}
	matches.Add(1)
	writeJSON(w, http.StatusOK, s.matcher.MatchOverrides(appID(r.Context()), req.Context))
}
