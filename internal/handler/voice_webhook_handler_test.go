package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/services/aggregator"
	"github.com/callscribe/voice-service/internal/services/call"
	"github.com/callscribe/voice-service/pkg/redis"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRepos serves a single enrolled user; every write is accepted and
// forgotten. Enough surface for webhook routing tests.
type stubRepos struct {
	user *domain.User
}

func (s *stubRepos) Users() repository.UserRepository                   { return (*stubUsers)(s) }
func (s *stubRepos) Transcriptions() repository.TranscriptionRepository { return (*stubTranscriptions)(s) }
func (s *stubRepos) Ping(ctx context.Context) error                     { return nil }
func (s *stubRepos) Close() error                                       { return nil }

type stubUsers stubRepos

func (s *stubUsers) Create(ctx context.Context, user *domain.User) error { return nil }
func (s *stubUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}
func (s *stubUsers) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	if s.user != nil && s.user.Phone == phone {
		return s.user, nil
	}
	return nil, nil
}

type stubTranscriptions stubRepos

func (s *stubTranscriptions) Create(ctx context.Context, t *domain.Transcription) error {
	t.ID = "txn-1"
	return nil
}
func (s *stubTranscriptions) Update(ctx context.Context, t *domain.Transcription) error { return nil }
func (s *stubTranscriptions) GetByID(ctx context.Context, id string) (*domain.Transcription, error) {
	return nil, nil
}
func (s *stubTranscriptions) ListByUserID(ctx context.Context, userID string) ([]*domain.Transcription, error) {
	return nil, nil
}
func (s *stubTranscriptions) AppendRecording(ctx context.Context, transcriptionID string, rec *domain.Recording) (int, bool, error) {
	return 1, true, nil
}
func (s *stubTranscriptions) ClaimForProcessing(ctx context.Context, transcriptionID string) (bool, error) {
	return false, nil
}
func (s *stubTranscriptions) FindStalePending(ctx context.Context, cutoff time.Time) ([]*domain.Transcription, error) {
	return nil, nil
}
func (s *stubTranscriptions) MarkAbandoned(ctx context.Context, transcriptionID string) error {
	return nil
}

type stubDialer struct{}

func (stubDialer) StartOutboundCall(ctx context.Context, to, answerURL, statusCallbackURL string) (string, error) {
	return "CA-callee-1", nil
}
func (stubDialer) RedirectCall(ctx context.Context, callSID, url string) error { return nil }

type stubSynth struct{}

func (stubSynth) SynthesizeGreeting(ctx context.Context, name string) (string, error) {
	return "greeting-test.mp3", nil
}

type stubLegs struct{}

func (stubLegs) MarkOnce(ctx context.Context, keyType redis.KeyType, identifier string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (stubLegs) RegisterLeg(ctx context.Context, conferenceName, callSID string, ttl time.Duration) error {
	return nil
}
func (stubLegs) Legs(ctx context.Context, conferenceName string) ([]string, error) { return nil, nil }
func (stubLegs) ClearLegs(ctx context.Context, conferenceName string) error        { return nil }

type stubSubmitter struct{}

func (stubSubmitter) Submit(ctx context.Context, transcriptionID string) {}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	cfg := &config.Config{
		PublicBaseURL:       "https://calls.example.com",
		SubjectMaxSeconds:   5,
		GatherTimeoutSecs:   5,
		MaxRecordingSeconds: 600,
	}
	repos := &stubRepos{user: &domain.User{ID: "user-1", Phone: "6135551234", Name: "Dana"}}
	agg := aggregator.NewService(repos, stubSubmitter{})
	svc := call.NewService(cfg, repos, stubDialer{}, stubSynth{}, stubLegs{}, agg)

	router := mux.NewRouter()
	NewVoiceWebhookHandler(svc).SetupVoiceRoutes(router)
	return router
}

func postForm(router *mux.Router, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestVoiceWebhookKnownCaller(t *testing.T) {
	router := newTestRouter(t)

	rec := postForm(router, "/voice", url.Values{
		"From":    {"+16135551234"},
		"CallSid": {"CA100"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<Play>https://calls.example.com/intro</Play>")
	assert.Contains(t, rec.Body.String(), "conf-CA100")
}

func TestVoiceWebhookUnknownCallerGetsSpokenRejection(t *testing.T) {
	router := newTestRouter(t)

	rec := postForm(router, "/voice", url.Values{
		"From":    {"+16135559999"},
		"CallSid": {"CA100"},
	})

	// Rejection is spoken, not an HTTP error: the provider needs a document.
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup>")
	assert.NotContains(t, rec.Body.String(), "<Record")
}

func TestSubjectWebhookRejectsMissingSessionState(t *testing.T) {
	router := newTestRouter(t)

	// No conferenceName/ownerCallHandle in the query.
	rec := postForm(router, "/subject", url.Values{
		"RecordingUrl": {"https://api.example.com/RE1"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<Response>")
}

func TestSubjectWebhookWithFullSessionRespondsWithChoice(t *testing.T) {
	router := newTestRouter(t)

	sess := call.NewCallSession("CA100", "6135551234")
	rec := postForm(router, "/subject?"+sess.Encode().Encode(), url.Values{
		"RecordingUrl": {"https://api.example.com/RE-subject"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `numDigits="1"`)
	assert.Contains(t, rec.Body.String(), "transcriptionId=txn-1")
}

func TestStartRecordingWebhookRejectsMissingTranscription(t *testing.T) {
	router := newTestRouter(t)

	// Session without transcriptionId: the call never captured a subject.
	sess := call.NewCallSession("CA100", "6135551234")
	rec := postForm(router, "/startRecording?"+sess.Encode().Encode(), url.Values{
		"CallSid": {"CA100"},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusWebhookAlwaysAcknowledges(t *testing.T) {
	router := newTestRouter(t)

	rec := postForm(router, "/status", url.Values{
		"CallSid":    {"CA100"},
		"CallStatus": {"completed"},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFallbackWebhookAlwaysAcknowledges(t *testing.T) {
	router := newTestRouter(t)

	rec := postForm(router, "/fallback", url.Values{})

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRecordingDoneWebhookRespondsWithClosingDocument(t *testing.T) {
	router := newTestRouter(t)

	sess := call.NewCallSession("CA100", "6135551234").WithTranscription("txn-1").WithCount(2)
	rec := postForm(router, "/twilioTranscription?"+sess.Encode().Encode(), url.Values{
		"RecordingSid":      {"RE1"},
		"RecordingUrl":      {"https://api.example.com/RE1"},
		"RecordingDuration": {"42"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<Hangup>")
}
