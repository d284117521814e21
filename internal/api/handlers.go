package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/bl4ck0w1/muninn/internal/discovery"
	"github.com/bl4ck0w1/muninn/internal/orchestration"
	"github.com/bl4ck0w1/muninn/pkg/models"
	"github.com/bl4ck0w1/muninn/pkg/utils"
	"github.com/zeebo/xxh3"
)

type submitResponse struct {
	ID        string            `json:"id"`
	Status    models.ScanStatus `json:"status"`
	TargetURL string            `json:"target_url"`
}

type statusResponse struct {
	ID        string            `json:"id"`
	Status    models.ScanStatus `json:"status"`
	TargetURL string            `json:"target_url"`
	Progress  models.Progress   `json:"progress"`
	Error     string            `json:"error,omitempty"`
}

type scanSummary struct {
	ID        string            `json:"id"`
	TargetURL string            `json:"target_url"`
	Status    models.ScanStatus `json:"status"`
	StartTime time.Time         `json:"start_time"`
	RiskLevel models.RiskLevel  `json:"risk_level"`
}

type listResponse struct {
	Scans []scanSummary `json:"scans"`
	Count int           `json:"count"`
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "application/json"
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := decodeScanRequest(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	var (
		scan *models.ScanResult
		err  error
	)
	if req.HTML != "" {
		scan, err = s.scanner.ScanDocument(r.Context(), req.URL, req.HTML)
	} else {
		scan, err = s.scanner.Submit(r.Context(), req.URL)
	}
	if errors.Is(err, discovery.ErrInvalidURL) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Errorf("Scan submission failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to submit scan")
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/scans/%s/status", scan.ID))
	writeJSON(w, http.StatusCreated, submitResponse{
		ID:        scan.ID,
		Status:    scan.CurrentStatus(),
		TargetURL: scan.TargetURL,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	scan, err := s.scanner.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:        scan.ID,
		Status:    scan.CurrentStatus(),
		TargetURL: scan.TargetURL,
		Progress:  scan.Progress(),
		Error:     scan.ErrorMessage(),
	})
}

// handleResults serves the whole scan document. The ETag is a content hash,
// so it changes as a running scan accumulates results.
func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	scan, err := s.scanner.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	data, err := json.Marshal(scan)
	if err != nil {
		s.logger.Errorf("Failed to encode scan %s: %v", scan.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to encode scan")
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxh3.Hash(data))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	scans, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Errorf("Failed to list scans: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}

	resp := listResponse{Scans: make([]scanSummary, 0, len(scans))}
	for _, scan := range scans {
		resp.Scans = append(resp.Scans, scanSummary{
			ID:        scan.ID,
			TargetURL: scan.TargetURL,
			Status:    scan.CurrentStatus(),
			StartTime: scan.StartTime,
			RiskLevel: scan.CurrentOverview().RiskLevel,
		})
	}
	resp.Count = len(resp.Scans)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.scanner.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, orchestration.ErrScanFinished):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.writeLookupError(w, err)
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "message": "cancellation requested"})
	}
}

// handleDelete refuses to drop a scan that is still live.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	scan, err := s.scanner.Get(r.Context(), id)
	if err != nil {
		s.writeLookupError(w, err)
		return
	}
	if !scan.CurrentStatus().Terminal() {
		writeError(w, http.StatusConflict, "scan is still active; cancel it first")
		return
	}
	deleted, err := s.store.Delete(r.Context(), id)
	if err != nil {
		s.logger.Errorf("Failed to delete scan %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to delete scan")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenRequest struct {
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled {
		writeError(w, http.StatusBadRequest, "authentication is disabled")
		return
	}
	var req tokenRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errMalformedBody.Error())
		return
	}
	if s.auth.AdminPasswordHash == "" || !utils.CheckPasswordHash(req.Password, s.auth.AdminPasswordHash) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := utils.IssueJWT("admin", s.auth.JWTSecret, s.auth.TokenTTL)
	if err != nil {
		s.logger.Errorf("Failed to issue token: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, ExpiresAt: time.Now().Add(s.auth.TokenTTL).UTC()})
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version,omitempty"`
	ActiveScans int    `json:"active_scans"`
	Uptime      string `json:"uptime"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Version:     s.version,
		ActiveScans: s.scanner.ActiveScans(),
		Uptime:      time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, orchestration.ErrScanNotFound) {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}
	s.logger.Errorf("Scan lookup failed: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
