package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"wattwatch/models"
	"wattwatch/services"
	"wattwatch/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server exposes the metering state read-only over HTTP
type Server struct {
	registry *services.Registry
	repo     *store.Repository
	history  *services.JobHistory
	ledger   *services.UsageLedger
	logger   *zap.Logger
	now      func() time.Time
}

func NewServer(registry *services.Registry, repo *store.Repository, history *services.JobHistory, ledger *services.UsageLedger, logger *zap.Logger) *Server {
	return &Server{
		registry: registry,
		repo:     repo,
		history:  history,
		ledger:   ledger,
		logger:   logger,
		now:      time.Now,
	}
}

func NewRouter(s *Server) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/devices", s.listDevices).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}", s.getDevice).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/jobs", s.listJobs).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/usage", s.getUsage).Methods(http.MethodGet)
	r.HandleFunc("/devices/{id}/history/{granularity}/{label}", s.getHistory).Methods(http.MethodGet)

	return r
}

type deviceView struct {
	ID     string               `json:"id"`
	Device models.Device        `json:"config"`
	Status *models.DeviceStatus `json:"status,omitempty"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": len(s.registry.Devices()),
	})
}

func (s *Server) listDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.registry.Devices()
	out := make([]deviceView, 0, len(devices))

	for _, device := range devices {
		view, err := s.view(r, device)
		if err != nil {
			s.storeError(w, device.ID, err)
			return
		}
		out = append(out, view)
	}

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	view, err := s.view(r, device)
	if err != nil {
		s.storeError(w, device.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	jobs, err := s.history.List(r.Context(), device.ID)
	if err != nil {
		s.storeError(w, device.ID, err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getUsage(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	tally, err := s.ledger.Tally(r.Context(), device.ID, s.now())
	if err != nil {
		s.storeError(w, device.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (s *Server) getHistory(w http.ResponseWriter, r *http.Request) {
	device, ok := s.device(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	granularity := models.Granularity(vars["granularity"])
	if !slices.Contains(models.Granularities, granularity) {
		writeError(w, http.StatusBadRequest, "unknown granularity")
		return
	}

	entry, err := s.ledger.History(r.Context(), device.ID, granularity, vars["label"])
	if err != nil {
		s.storeError(w, device.ID, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// device resolves the {id} route variable and writes 404 when it is unknown
func (s *Server) device(w http.ResponseWriter, r *http.Request) (models.Device, bool) {
	device, ok := s.registry.Device(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
	}
	return device, ok
}

func (s *Server) view(r *http.Request, device models.Device) (deviceView, error) {
	view := deviceView{ID: device.ID, Device: device}

	status, err := s.repo.Status(r.Context(), device.ID)
	switch {
	case err == nil:
		view.Status = status
	case errors.Is(err, store.ErrNotFound):
	default:
		return deviceView{}, err
	}
	return view, nil
}

func (s *Server) storeError(w http.ResponseWriter, deviceID string, err error) {
	s.logger.Error("Failed to read device state",
		zap.String("device_id", deviceID),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store unavailable")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
