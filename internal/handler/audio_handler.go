package handler

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// AudioHandler serves the voice prompts the provider plays into calls: the
// fixed clips shipped with the service and the per-caller synthesized
// greetings written by the speech client.
type AudioHandler struct {
	audioDir string
}

// NewAudioHandler creates the handler. audioDir holds the fixed clips at its
// root and synthesized greetings under personalized/.
func NewAudioHandler(audioDir string) *AudioHandler {
	return &AudioHandler{audioDir: audioDir}
}

// Fixed prompt clips, addressed by route name.
var promptFiles = map[string]string{
	"/intro":     "intro.mp3",
	"/beep":      "beep.mp3",
	"/recording": "recording.mp3",
	"/end":       "end.mp3",
}

// SetupAudioRoutes registers the prompt endpoints.
func (h *AudioHandler) SetupAudioRoutes(router *mux.Router) {
	for route := range promptFiles {
		router.HandleFunc(route, h.servePrompt).Methods("GET")
	}
	router.HandleFunc("/personalized/{filename}", h.servePersonalized).Methods("GET")

	logger.Base().Info("audio prompt routes registered", zap.String("dir", h.audioDir))
}

func (h *AudioHandler) servePrompt(w http.ResponseWriter, r *http.Request) {
	file, ok := promptFiles[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.serveFile(w, r, filepath.Join(h.audioDir, file))
}

func (h *AudioHandler) servePersonalized(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]

	// The filename is caller-supplied; never let it walk out of the
	// personalized directory.
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		http.Error(w, "invalid filename", http.StatusBadRequest)
		return
	}

	h.serveFile(w, r, filepath.Join(h.audioDir, "personalized", filename))
}

func (h *AudioHandler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, path)
}
