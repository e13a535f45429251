package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/callscribe/voice-service/internal/services/call"
	"github.com/callscribe/voice-service/internal/twiml"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Provider webhook form fields.
const (
	formCallSid           = "CallSid"
	formFrom              = "From"
	formDigits            = "Digits"
	formCallStatus        = "CallStatus"
	formRecordingURL      = "RecordingUrl"
	formRecordingSid      = "RecordingSid"
	formRecordingDuration = "RecordingDuration"
)

// VoiceWebhookHandler adapts provider webhook requests to the call
// orchestrator: decode form and query state, invoke the matching state
// transition, and write the voice-response document back.
type VoiceWebhookHandler struct {
	service *call.Service
}

// NewVoiceWebhookHandler creates the webhook handler.
func NewVoiceWebhookHandler(service *call.Service) *VoiceWebhookHandler {
	return &VoiceWebhookHandler{service: service}
}

// SetupVoiceRoutes registers the webhook endpoints.
func (h *VoiceWebhookHandler) SetupVoiceRoutes(router *mux.Router) {
	router.HandleFunc(call.PathVoice, h.handleVoice).Methods("POST")
	router.HandleFunc(call.PathSubject, h.handleSubject).Methods("POST")
	router.HandleFunc(call.PathAddParticipant, h.handleAddParticipant).Methods("POST")
	router.HandleFunc(call.PathJoinConference, h.handleJoinConference).Methods("POST")
	router.HandleFunc(call.PathJoinConferenceCall, h.handleJoinConferenceCall).Methods("POST")
	router.HandleFunc(call.PathCalleeJoined, h.handleCalleeJoined).Methods("POST")
	router.HandleFunc(call.PathStartRecording, h.handleStartRecording).Methods("POST")
	router.HandleFunc(call.PathRecordingDone, h.handleRecordingDone).Methods("POST")
	router.HandleFunc("/status", h.handleStatus).Methods("POST")
	router.HandleFunc("/fallback", h.handleFallback).Methods("POST")

	logger.Base().Info("voice webhook routes registered")
}

// writeVoiceResponse marshals the document and sends it as XML. A document is
// always written with status 200; rendering failure degrades to a hangup so
// the provider never retries an orchestration step.
func writeVoiceResponse(w http.ResponseWriter, doc *twiml.Response) {
	body, err := doc.Render()
	if err != nil {
		logger.Base().Error("failed to render voice response", zap.Error(err))
		body, _ = (&twiml.Response{}).Add(twiml.Hangup{}).Render()
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// session decodes and validates the forwarded call state. On a missing
// required parameter it writes 400 and returns false: the request is not a
// legitimate step of any call, so no voice document is produced.
func session(w http.ResponseWriter, r *http.Request, required ...string) (call.CallSession, bool) {
	sess := call.DecodeSession(r.URL.Query())
	if err := sess.Require(required...); err != nil {
		var missing *call.MissingFieldError
		if errors.As(err, &missing) {
			logger.Base().Warn("webhook rejected: incomplete session state",
				zap.String("path", r.URL.Path),
				zap.String("missing", missing.Field))
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return call.CallSession{}, false
	}
	return sess, true
}

// handleVoice is the inbound call entry point.
func (h *VoiceWebhookHandler) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	doc := h.service.HandleIncoming(r.Context(), r.PostForm.Get(formFrom), r.PostForm.Get(formCallSid))
	writeVoiceResponse(w, doc)
}

// handleSubject fires when the subject clip has been recorded.
func (h *VoiceWebhookHandler) handleSubject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamUsername)
	if !ok {
		return
	}

	doc := h.service.HandleSubjectCaptured(r.Context(), sess, r.PostForm.Get(formRecordingURL))
	writeVoiceResponse(w, doc)
}

// handleAddParticipant interprets the participant-choice digit.
func (h *VoiceWebhookHandler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamCount, call.ParamTranscriptionID)
	if !ok {
		return
	}

	digits, hasDigits := r.PostForm[formDigits]
	var pressed string
	if hasDigits && len(digits) > 0 {
		pressed = digits[0]
	}

	doc := h.service.HandleParticipantChoice(r.Context(), sess, pressed, hasDigits)
	writeVoiceResponse(w, doc)
}

// handleJoinConference receives the gathered participant phone number and
// triggers dial-out.
func (h *VoiceWebhookHandler) handleJoinConference(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamCount, call.ParamTranscriptionID)
	if !ok {
		return
	}

	number := r.PostForm.Get(formDigits)
	if number == "" {
		// No number entered before the gather timed out; offer the choice again.
		doc := h.service.HandleParticipantChoice(r.Context(), sess, "", false)
		writeVoiceResponse(w, doc)
		return
	}

	doc := h.service.HandleDialOut(r.Context(), sess, number)
	writeVoiceResponse(w, doc)
}

// handleJoinConferenceCall answers the dialed participant's leg.
func (h *VoiceWebhookHandler) handleJoinConferenceCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference)
	if !ok {
		return
	}

	doc := h.service.HandleParticipantJoin(r.Context(), sess.ConferenceName, r.PostForm.Get(formCallSid))
	writeVoiceResponse(w, doc)
}

// handleCalleeJoined is the dial-out status callback. It carries no voice
// document: the responding leg is the callee's status stream, not a live call.
func (h *VoiceWebhookHandler) handleCalleeJoined(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamCount, call.ParamTranscriptionID)
	if !ok {
		return
	}

	if err := h.service.HandleCalleeJoined(r.Context(), sess, r.PostForm.Get(formCallSid), r.PostForm.Get(formCallStatus)); err != nil {
		http.Error(w, "failed to process status callback", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleStartRecording begins the main recording for the requesting leg.
func (h *VoiceWebhookHandler) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamCount, call.ParamTranscriptionID)
	if !ok {
		return
	}

	doc := h.service.HandleRecordingStart(r.Context(), sess, r.PostForm.Get(formCallSid))
	writeVoiceResponse(w, doc)
}

// handleRecordingDone is one leg's recording-complete callback.
func (h *VoiceWebhookHandler) handleRecordingDone(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "malformed form body", http.StatusBadRequest)
		return
	}

	sess, ok := session(w, r, call.ParamConference, call.ParamOwner, call.ParamCount, call.ParamTranscriptionID)
	if !ok {
		return
	}

	duration := 0
	if raw := r.PostForm.Get(formRecordingDuration); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			duration = n
		}
	}

	doc := h.service.HandleRecordingComplete(r.Context(), sess,
		r.PostForm.Get(formRecordingSid),
		r.PostForm.Get(formRecordingURL),
		duration)
	writeVoiceResponse(w, doc)
}

// handleStatus receives call lifecycle events. Logged and acknowledged; no
// orchestration happens here.
func (h *VoiceWebhookHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err == nil {
		logger.Base().Info("call status event",
			zap.String("call_sid", r.PostForm.Get(formCallSid)),
			zap.String("status", r.PostForm.Get(formCallStatus)))
	}
	w.WriteHeader(http.StatusOK)
}

// handleFallback fires when the provider could not reach a primary webhook.
// Always acknowledged so the provider stops retrying.
func (h *VoiceWebhookHandler) handleFallback(w http.ResponseWriter, r *http.Request) {
	logger.Base().Error("provider invoked fallback webhook",
		zap.String("path", r.URL.Path),
		zap.String("query", r.URL.RawQuery))
	w.WriteHeader(http.StatusOK)
}
