package tileserver

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tripmap-offline/internal/downloader"
	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/netstatus"
	"tripmap-offline/internal/offline"
	"tripmap-offline/internal/storage"
)

type estimateResponse struct {
	geotile.Estimate
	HumanSize string        `json:"humanSize"`
	Range     geotile.Range `json:"range"`
}

type networkResponse struct {
	netstatus.Status
	IsOfflineMode bool `json:"isOfflineMode"`
}

type storageResponse struct {
	SizeBytes int64      `json:"sizeBytes"`
	HumanSize string     `json:"humanSize"`
	Areas     int        `json:"areas"`
	LastSync  *time.Time `json:"lastSync"`
}

func (s *Server) handleListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := s.Store.ListAreas(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, areas)
}

func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req downloader.Request
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.Queue.Enqueue(req)
	switch {
	case errors.Is(err, downloader.ErrQueueFull):
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// handleEstimate expects ?north=&south=&east=&west=&zoom=
func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		b    geotile.Bounds
		zoom int
	)
	for name, dst := range map[string]*float64{"north": &b.North, "south": &b.South, "east": &b.East, "west": &b.West} {
		v, err := strconv.ParseFloat(q.Get(name), 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid %s: %q", name, q.Get(name)))
			return
		}
		*dst = v
	}
	zoom, err := strconv.Atoi(q.Get("zoom"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid zoom: %q", q.Get("zoom")))
		return
	}

	est, err := s.Downloader.Estimate(b, zoom)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, estimateResponse{
		Estimate:  est,
		HumanSize: est.HumanSize(),
		Range:     geotile.TileRangeForBounds(b, zoom),
	})
}

func (s *Server) handleGetArea(w http.ResponseWriter, r *http.Request) {
	area, err := s.Store.GetArea(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, area)
}

func (s *Server) handleDeleteArea(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.DeleteArea(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, ok := s.Queue.Progress(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, downloader.ErrUnknownArea)
		return
	}
	s.writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	err := s.Queue.Acknowledge(mux.Vars(r)["id"])
	switch {
	case errors.Is(err, downloader.ErrUnknownArea):
		s.writeError(w, http.StatusNotFound, err)
	case err != nil:
		s.writeError(w, http.StatusConflict, err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.Queue.Cancel(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, networkResponse{
		Status:        s.Monitor.Status(),
		IsOfflineMode: s.Controller.IsOfflineMode(),
	})
}

// handleSetNetwork accepts {"online": bool} from hosts that push connectivity
func (s *Server) handleSetNetwork(w http.ResponseWriter, r *http.Request) {
	if s.Manual == nil {
		s.writeError(w, http.StatusConflict, errors.New("connectivity is probed automatically"))
		return
	}
	var body struct {
		Online *bool `json:"online"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Online == nil {
		s.writeError(w, http.StatusBadRequest, errors.New("online is required"))
		return
	}

	// The monitor is subscribed to Manual, so the status below is current
	s.Manual.Set(*body.Online)
	s.handleNetworkStatus(w, r)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.Reconnect.ManualRetry()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleGetLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := s.Controller.Locations(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, locations)
}

// handlePutLocations takes a live location snapshot
func (s *Server) handlePutLocations(w http.ResponseWriter, r *http.Request) {
	var locations []storage.CachedLocation
	if err := decodeBody(r, &locations); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if s.Controller.IsOfflineMode() {
		s.writeError(w, http.StatusConflict, offline.ErrOffline)
		return
	}
	s.Feed.SetLocations(locations)
	if err := s.Controller.RecordLocations(r.Context(), locations); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMeetup(w http.ResponseWriter, r *http.Request) {
	point, err := s.Controller.MeetupPoint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, point)
}

func (s *Server) handlePutMeetup(w http.ResponseWriter, r *http.Request) {
	var point storage.CachedMeetupPoint
	if err := decodeBody(r, &point); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	point.GroupID = mux.Vars(r)["id"]

	if s.Controller.IsOfflineMode() {
		s.writeError(w, http.StatusConflict, offline.ErrOffline)
		return
	}
	s.Feed.SetMeetupPoint(point)
	if err := s.Controller.RecordMeetupPoint(r.Context(), point); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCoverage expects ?lat=&lng=
func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	lat, errLat := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, errLng := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if errLat != nil || errLng != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("lat and lng are required"))
		return
	}

	areas, err := s.Controller.CoveringAreas(r.Context(), lat, lng)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, areas)
}

func (s *Server) handleStorage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	areas, err := s.Store.ListAreas(ctx)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	size := s.Store.TotalStorageSize(ctx)

	resp := storageResponse{SizeBytes: size, HumanSize: geotile.FormatBytes(size), Areas: len(areas)}
	if t, ok, err := s.Store.LastSync(ctx); err == nil && ok {
		resp.LastSync = &t
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearStorage(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.ClearAll(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, offline.ErrOffline):
		return http.StatusConflict
	case errors.Is(err, storage.ErrQuotaExceeded):
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
