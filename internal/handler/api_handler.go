package handler

import (
	"encoding/json"
	"net/http"

	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/services/call"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// APIHandler exposes the management API: user enrollment and transcript
// lookups. Callers must be enrolled before the voice line recognizes them.
type APIHandler struct {
	repos repository.RepositoryManager
}

// NewAPIHandler creates the handler.
func NewAPIHandler(repos repository.RepositoryManager) *APIHandler {
	return &APIHandler{repos: repos}
}

// SetupAPIRoutes registers the management endpoints on the /api subrouter.
func (h *APIHandler) SetupAPIRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.createUser).Methods("POST")
	router.HandleFunc("/users/{phone}", h.getUserByPhone).Methods("GET")
	router.HandleFunc("/transcriptions", h.listTranscriptions).Methods("GET")
	router.HandleFunc("/transcriptions/{id}", h.getTranscription).Methods("GET")

	logger.Base().Info("management api routes registered")
}

func (h *APIHandler) createUser(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Phone == "" || req.Name == "" {
		writeJSONError(w, http.StatusBadRequest, "phone and name are required")
		return
	}

	phone := call.NormalizePhone(req.Phone)
	if existing, err := h.repos.Users().GetByPhone(r.Context(), phone); err != nil {
		logger.Base().Error("user lookup failed", zap.String("phone", phone), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	} else if existing != nil {
		writeJSONError(w, http.StatusConflict, "phone number already enrolled")
		return
	}

	user := &domain.User{
		Phone:   phone,
		Name:    req.Name,
		Email:   req.Email,
		Title:   req.Title,
		Company: req.Company,
	}
	if err := h.repos.Users().Create(r.Context(), user); err != nil {
		logger.Base().Error("user create failed", zap.String("phone", phone), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "create failed")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *APIHandler) getUserByPhone(w http.ResponseWriter, r *http.Request) {
	phone := call.NormalizePhone(mux.Vars(r)["phone"])

	user, err := h.repos.Users().GetByPhone(r.Context(), phone)
	if err != nil {
		logger.Base().Error("user lookup failed", zap.String("phone", phone), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if user == nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

func (h *APIHandler) listTranscriptions(w http.ResponseWriter, r *http.Request) {
	phone := call.NormalizePhone(r.URL.Query().Get("phone"))
	if phone == "" {
		writeJSONError(w, http.StatusBadRequest, "phone query parameter is required")
		return
	}

	user, err := h.repos.Users().GetByPhone(r.Context(), phone)
	if err != nil {
		logger.Base().Error("user lookup failed", zap.String("phone", phone), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if user == nil {
		writeJSONError(w, http.StatusNotFound, "user not found")
		return
	}

	transcriptions, err := h.repos.Transcriptions().ListByUserID(r.Context(), user.ID)
	if err != nil {
		logger.Base().Error("transcription list failed", zap.String("user_id", user.ID), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "list failed")
		return
	}

	writeJSON(w, http.StatusOK, transcriptions)
}

func (h *APIHandler) getTranscription(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	t, err := h.repos.Transcriptions().GetByID(r.Context(), id)
	if err != nil {
		logger.Base().Error("transcription lookup failed", zap.String("id", id), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if t == nil {
		writeJSONError(w, http.StatusNotFound, "transcription not found")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Base().Error("failed to encode response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
