package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/strokesense/strokesense-core/internal/analysis"
	"github.com/strokesense/strokesense-core/internal/assessment"
	"github.com/strokesense/strokesense-core/internal/recording"
	"github.com/strokesense/strokesense-core/internal/risk"
)

// Recorder drives recording sessions on behalf of HTTP clients. Implemented
// by the recording service; nil when recognition is disabled.
type Recorder interface {
	StartSession() (recording.Session, error)
	StopSession() (recording.Session, error)
	SubmitManual(text string) (recording.Session, error)
	Session() recording.Session
}

// Server exposes the assessment store, the speech analyzer and the recording
// session controller over HTTP.
type Server struct {
	store    *assessment.Store
	analyzer *analysis.Analyzer
	recorder Recorder
	logger   *slog.Logger

	// One analysis request at a time; concurrent triggers are rejected with
	// 409, never queued.
	analyzeMu sync.Mutex
}

func NewServer(store *assessment.Store, analyzer *analysis.Analyzer, recorder Recorder, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		analyzer: analyzer,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "http-api")),
	}
}

// Register mounts the API routes on the runtime mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /assessments", s.handleCreateAssessment)
	mux.HandleFunc("GET /assessments/recent", s.handleRecentAssessments)
	mux.HandleFunc("POST /analyze-speech", s.handleAnalyzeSpeech)
	if s.recorder != nil {
		mux.HandleFunc("POST /recording/start", s.handleRecordingStart)
		mux.HandleFunc("POST /recording/stop", s.handleRecordingStop)
		mux.HandleFunc("POST /recording/manual", s.handleRecordingManual)
		mux.HandleFunc("GET /recording/session", s.handleRecordingSession)
	}
}

type createAssessmentRequest struct {
	Asymmetry *risk.FacialMetrics  `json:"asymmetryMetrics"`
	Posture   *risk.PostureMetrics `json:"postureMetrics"`
	RiskLevel *string              `json:"riskLevel"`
	Speech    *risk.SpeechMetrics  `json:"speechMetrics"`
	Score     float64              `json:"score"`
	Timestamp *time.Time           `json:"timestamp"`
}

func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	var req createAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Missing required data")
		return
	}
	if req.Asymmetry == nil || req.Posture == nil || req.RiskLevel == nil {
		writeError(w, http.StatusBadRequest, "Missing required data")
		return
	}

	rec := assessment.Record{
		Facial:    *req.Asymmetry,
		Posture:   req.Posture,
		Speech:    req.Speech,
		RiskLevel: risk.Level(*req.RiskLevel),
		Score:     req.Score,
	}
	if req.Timestamp != nil {
		rec.Timestamp = *req.Timestamp
	}

	id, err := s.store.Insert(r.Context(), rec)
	if err != nil {
		s.logger.Error("failed to save assessment", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to save assessment")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"id":      id,
		"message": "Assessment saved successfully",
	})
}

func (s *Server) handleRecentAssessments(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRecent(r.Context(), 10)
	if err != nil {
		s.logger.Error("failed to list assessments", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to retrieve assessments")
		return
	}
	if records == nil {
		records = []assessment.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

type analyzeSpeechRequest struct {
	Transcript    string              `json:"transcript"`
	FacialMetrics *risk.FacialMetrics `json:"facialMetrics"`
}

type analyzeSpeechResponse struct {
	Analysis risk.SpeechMetrics `json:"analysis"`
}

// handleAnalyzeSpeech never returns a non-2xx status for a well-formed
// request: the analyzer degrades to defaults internally.
func (s *Server) handleAnalyzeSpeech(w http.ResponseWriter, r *http.Request) {
	var req analyzeSpeechRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if !s.analyzeMu.TryLock() {
		writeError(w, http.StatusConflict, "analysis already in progress")
		return
	}
	defer s.analyzeMu.Unlock()

	metrics := s.analyzer.Analyze(r.Context(), req.Transcript, req.FacialMetrics)
	writeJSON(w, http.StatusOK, analyzeSpeechResponse{Analysis: metrics})
}

type sessionResponse struct {
	ID                   string `json:"id"`
	State                string `json:"state"`
	Transcript           string `json:"transcript"`
	Attempts             int    `json:"attempts"`
	ErrorMessage         string `json:"errorMessage,omitempty"`
	ManualEntryAvailable bool   `json:"manualEntryAvailable"`
}

func toSessionResponse(sess recording.Session) sessionResponse {
	return sessionResponse{
		ID:                   sess.ID,
		State:                sess.State.String(),
		Transcript:           sess.Transcript,
		Attempts:             sess.Attempts,
		ErrorMessage:         sess.ErrorMessage,
		ManualEntryAvailable: sess.ManualEntryAvailable(),
	}
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.recorder.StartSession()
	if err != nil {
		if err == recording.ErrSessionActive {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// The session has already landed in the error state with its
		// user-facing message; return it so the client can offer manual
		// entry.
		s.logger.Warn("recording start failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusOK, toSessionResponse(sess))
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, _ *http.Request) {
	sess, err := s.recorder.StopSession()
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

type manualEntryRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleRecordingManual(w http.ResponseWriter, r *http.Request) {
	var req manualEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	sess, err := s.recorder.SubmitManual(req.Transcript)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(sess))
}

func (s *Server) handleRecordingSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(s.recorder.Session()))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are already out; nothing left to do but note it.
		slog.Default().Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
