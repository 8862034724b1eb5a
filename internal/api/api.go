package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/db"
	"github.com/thatsimonsguy/uf-controller/internal/controller"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/scheduler"
	"github.com/thatsimonsguy/uf-controller/internal/sequencer"
	"github.com/thatsimonsguy/uf-controller/internal/store"
)

type Server struct {
	ctl *controller.Controller
	db  *sql.DB
}

type StatusResponse struct {
	Process        string          `json:"process,omitempty"`
	Stage          string          `json:"stage"`
	Cycle          bool            `json:"cycle"`
	DurationMS     int64           `json:"duration_ms,omitempty"`
	CountdownMS    int64           `json:"countdown_ms,omitempty"`
	StageStartedAt *time.Time      `json:"stage_started_at,omitempty"`
	Channels       []model.Channel `json:"channels"`
}

type ChannelResponse struct {
	ID int  `json:"id"`
	On bool `json:"on"`
}

type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the control API. dbConn may be nil when the run journal
// is disabled.
func NewServer(ctl *controller.Controller, dbConn *sql.DB) *Server {
	return &Server{ctl: ctl, db: dbConn}
}

func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(cors)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.getStatus).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/channels", s.getChannels).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/channels/{id:[0-9]+}/{action:on|off|toggle}", s.setChannel).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/cycle", s.startCycle).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/processes/{name}", s.startProcess).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/stop", s.stop).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/emergency-stop", s.emergencyStop).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/timings", s.getTimings).Methods(http.MethodGet, http.MethodOptions)
	api.HandleFunc("/timings", s.updateTimings).Methods(http.MethodPut)
	api.HandleFunc("/timings/reset", s.resetTimings).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/runs", s.getRuns).Methods(http.MethodGet, http.MethodOptions)
	return r
}

// Start serves the API until the server fails.
func (s *Server) Start(addr string) error {
	log.Info().Str("address", addr).Msg("Starting REST API server")
	return http.ListenAndServe(addr, s.Router())
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.ctl.Status()
	if err != nil {
		s.writeControlError(w, err)
		return
	}

	st := snap.Status
	resp := StatusResponse{
		Process:     string(st.Process),
		Stage:       string(st.Stage),
		Cycle:       st.Cycle,
		DurationMS:  st.Duration.Milliseconds(),
		CountdownMS: st.Countdown.Milliseconds(),
		Channels:    snap.Channels,
	}
	if !st.StageStartedAt.IsZero() {
		at := st.StageStartedAt
		resp.StageStartedAt = &at
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getChannels(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ctl.Channels())
}

func (s *Server) setChannel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid channel id")
		return
	}

	var on bool
	switch vars["action"] {
	case "on":
		err = s.ctl.TurnOn(id)
		on = true
	case "off":
		err = s.ctl.TurnOff(id)
	case "toggle":
		on, err = s.ctl.Toggle(id)
	}
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ChannelResponse{ID: id, On: on})
}

func (s *Server) startCycle(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.StartAutoCycle(); err != nil {
		s.writeControlError(w, err)
		return
	}
	log.Info().Msg("Auto cycle started via API")
	s.getStatus(w, r)
}

func (s *Server) startProcess(w http.ResponseWriter, r *http.Request) {
	name := model.ProcessName(mux.Vars(r)["name"])
	if err := s.ctl.StartSingleProcess(name); err != nil {
		s.writeControlError(w, err)
		return
	}
	log.Info().Str("process", string(name)).Msg("Process started via API")
	s.getStatus(w, r)
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(nil); err != nil {
		s.writeControlError(w, err)
		return
	}
	log.Info().Msg("Graceful stop requested via API")
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) emergencyStop(w http.ResponseWriter, r *http.Request) {
	req := EmergencyStopRequest{Reason: "api request"}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
	}
	if err := s.ctl.EmergencyStop(req.Reason); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.getStatus(w, r)
}

func (s *Server) getTimings(w http.ResponseWriter, r *http.Request) {
	t, err := s.ctl.Timings()
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) updateTimings(w http.ResponseWriter, r *http.Request) {
	var partial store.Table
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if len(partial) == 0 {
		s.writeError(w, http.StatusBadRequest, "No timings given")
		return
	}

	err := s.ctl.UpdateTimings(partial)
	if errors.Is(err, sequencer.ErrUnknownProcess) || errors.Is(err, sequencer.ErrInvalidDuration) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.getTimings(w, r)
}

func (s *Server) resetTimings(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ResetTimings(); err != nil {
		s.writeControlError(w, err)
		return
	}
	s.getTimings(w, r)
}

func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	if s.db == nil {
		s.writeJSON(w, http.StatusOK, []model.Run{})
		return
	}
	runs, err := db.ListRuns(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

func (s *Server) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sequencer.ErrUnknownProcess), errors.Is(err, gpio.ErrUnknownChannel):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sequencer.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scheduler.ErrLoopStopped):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Control request failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
