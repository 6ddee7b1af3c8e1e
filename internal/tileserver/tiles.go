package tileserver

import (
	"bytes"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"

	"tripmap-offline/internal/geotile"
	"tripmap-offline/internal/offline"
)

const tileSize = 256

var (
	transparentOnce sync.Once
	transparentPNG  []byte
)

// transparentTile returns an empty 256x256 PNG
func transparentTile() []byte {
	transparentOnce.Do(func() {
		var buf bytes.Buffer
		png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, tileSize, tileSize)))
		transparentPNG = buf.Bytes()
	})
	return transparentPNG
}

func (s *Server) serveTransparentTile(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Tile-Source", string(offline.SourceNone))
	w.Write(transparentTile())
}

// handleTile serves a map tile
// URL format: /tiles/{z}/{x}/{y}
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	z, errZ := strconv.Atoi(vars["z"])
	x, errX := strconv.Atoi(vars["x"])
	y, errY := strconv.Atoi(vars["y"])
	if errZ != nil || errX != nil || errY != nil {
		http.Error(w, "Invalid tile coordinate", http.StatusBadRequest)
		return
	}

	if err := geotile.ValidateZoom(z); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if maxTile := 1 << z; x >= maxTile || y >= maxTile {
		http.Error(w, "Tile coordinate out of range", http.StatusBadRequest)
		return
	}

	coord := geotile.Coordinate{X: x, Y: y, Zoom: z}
	tile, err := s.Controller.Tile(r.Context(), coord)
	if err != nil {
		s.log.WithError(err).WithField("tile", coord.String()).Warn("Failed to fetch tile")
		// Serve transparent tile on error
		s.serveTransparentTile(w)
		return
	}

	switch tile.Source {
	case offline.SourceNone:
		s.serveTransparentTile(w)
		return
	case offline.SourceCache:
		w.Header().Set("X-Cache-Status", "HIT")
	default:
		w.Header().Set("X-Cache-Status", "MISS")
	}

	w.Header().Set("Content-Type", http.DetectContentType(tile.Data))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Tile-Source", string(tile.Source))
	w.Write(tile.Data)
}
