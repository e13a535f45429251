package call

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/services/aggregator"
	"github.com/callscribe/voice-service/internal/twiml"
	"github.com/callscribe/voice-service/pkg/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type fakeRepos struct {
	mu             sync.Mutex
	users          map[string]*domain.User // by phone
	transcriptions map[string]*domain.Transcription
	recordings     map[string]*domain.Recording
	failUserLookup bool
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		users:          make(map[string]*domain.User),
		transcriptions: make(map[string]*domain.Transcription),
		recordings:     make(map[string]*domain.Recording),
	}
}

func (f *fakeRepos) addUser(phone, name string) *domain.User {
	u := &domain.User{ID: "user-" + phone, Phone: phone, Name: name, Email: name + "@example.com"}
	f.users[phone] = u
	return u
}

func (f *fakeRepos) Users() repository.UserRepository                   { return (*fakeUsers)(f) }
func (f *fakeRepos) Transcriptions() repository.TranscriptionRepository { return (*fakeTranscriptions)(f) }
func (f *fakeRepos) Ping(ctx context.Context) error                     { return nil }
func (f *fakeRepos) Close() error                                       { return nil }

type fakeUsers fakeRepos

func (f *fakeUsers) Create(ctx context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.Phone] = user
	return nil
}

func (f *fakeUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (f *fakeUsers) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUserLookup {
		return nil, fmt.Errorf("database unavailable")
	}
	return f.users[phone], nil
}

type fakeTranscriptions fakeRepos

func (f *fakeTranscriptions) Create(ctx context.Context, t *domain.Transcription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t.ID == "" {
		t.ID = fmt.Sprintf("txn-%d", len(f.transcriptions)+1)
	}
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	t.UpdatedAt = time.Now()
	f.transcriptions[t.ID] = t
	return nil
}

func (f *fakeTranscriptions) Update(ctx context.Context, t *domain.Transcription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcriptions[t.ID] = t
	return nil
}

func (f *fakeTranscriptions) GetByID(ctx context.Context, id string) (*domain.Transcription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcriptions[id]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func (f *fakeTranscriptions) ListByUserID(ctx context.Context, userID string) ([]*domain.Transcription, error) {
	return nil, nil
}

func (f *fakeTranscriptions) AppendRecording(ctx context.Context, transcriptionID string, rec *domain.Recording) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	appended := false
	if _, dup := f.recordings[rec.RecordingSID]; !dup {
		rec.TranscriptionID = transcriptionID
		f.recordings[rec.RecordingSID] = rec
		appended = true
	}
	count := 0
	for _, r := range f.recordings {
		if r.TranscriptionID == transcriptionID {
			count++
		}
	}
	return count, appended, nil
}

func (f *fakeTranscriptions) ClaimForProcessing(ctx context.Context, transcriptionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcriptions[transcriptionID]
	if !ok || t.Status != domain.StatusPending {
		return false, nil
	}
	t.Status = domain.StatusProcessing
	return true, nil
}

func (f *fakeTranscriptions) FindStalePending(ctx context.Context, cutoff time.Time) ([]*domain.Transcription, error) {
	return nil, nil
}

func (f *fakeTranscriptions) MarkAbandoned(ctx context.Context, transcriptionID string) error {
	return nil
}

type outboundCall struct {
	to                string
	answerURL         string
	statusCallbackURL string
}

type redirectedCall struct {
	callSID string
	url     string
}

type fakeDialer struct {
	mu        sync.Mutex
	outbound  []outboundCall
	redirects []redirectedCall
	failDial  bool
	nextSID   int
}

func (f *fakeDialer) StartOutboundCall(ctx context.Context, to, answerURL, statusCallbackURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDial {
		return "", fmt.Errorf("provider rejected the call")
	}
	f.nextSID++
	f.outbound = append(f.outbound, outboundCall{to: to, answerURL: answerURL, statusCallbackURL: statusCallbackURL})
	return fmt.Sprintf("CA-callee-%d", f.nextSID), nil
}

func (f *fakeDialer) RedirectCall(ctx context.Context, callSID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects = append(f.redirects, redirectedCall{callSID: callSID, url: url})
	return nil
}

type fakeSynth struct {
	fail bool
}

func (f *fakeSynth) SynthesizeGreeting(ctx context.Context, name string) (string, error) {
	if f.fail {
		return "", fmt.Errorf("synthesis API unreachable")
	}
	return "greeting-abc123.mp3", nil
}

type fakeLegs struct {
	mu    sync.Mutex
	seen  map[string]bool
	legs  map[string][]string
}

func newFakeLegs() *fakeLegs {
	return &fakeLegs{seen: make(map[string]bool), legs: make(map[string][]string)}
}

func (f *fakeLegs) MarkOnce(ctx context.Context, keyType redis.KeyType, identifier string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := string(keyType) + ":" + identifier
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

func (f *fakeLegs) RegisterLeg(ctx context.Context, conferenceName, callSID string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.legs[conferenceName] {
		if existing == callSID {
			return nil
		}
	}
	f.legs[conferenceName] = append(f.legs[conferenceName], callSID)
	return nil
}

func (f *fakeLegs) Legs(ctx context.Context, conferenceName string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.legs[conferenceName]...), nil
}

func (f *fakeLegs) ClearLegs(ctx context.Context, conferenceName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.legs, conferenceName)
	return nil
}

type noopSubmitter struct {
	mu    sync.Mutex
	calls []string
}

func (n *noopSubmitter) Submit(ctx context.Context, transcriptionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, transcriptionID)
}

// --- harness ---

type fixture struct {
	svc       *Service
	repos     *fakeRepos
	dialer    *fakeDialer
	synth     *fakeSynth
	legs      *fakeLegs
	submitter *noopSubmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		PublicBaseURL:       "https://calls.example.com",
		SubjectMaxSeconds:   5,
		GatherTimeoutSecs:   5,
		MaxRecordingSeconds: 600,
	}
	repos := newFakeRepos()
	dialer := &fakeDialer{}
	synth := &fakeSynth{}
	legs := newFakeLegs()
	submitter := &noopSubmitter{}
	agg := aggregator.NewService(repos, submitter)
	return &fixture{
		svc:       NewService(cfg, repos, dialer, synth, legs, agg),
		repos:     repos,
		dialer:    dialer,
		synth:     synth,
		legs:      legs,
		submitter: submitter,
	}
}

func render(t *testing.T, doc *twiml.Response) string {
	t.Helper()
	out, err := doc.Render()
	require.NoError(t, err)
	return out
}

// --- tests ---

func TestIncomingKnownCallerGetsGreetingAndSubjectPrompt(t *testing.T) {
	fx := newFixture(t)
	fx.repos.addUser("6135551234", "Dana")

	out := render(t, fx.svc.HandleIncoming(context.Background(), "+16135551234", "CA100"))

	assert.Contains(t, out, "<Play>https://calls.example.com/intro</Play>")
	assert.Contains(t, out, "<Play>https://calls.example.com/personalized/greeting-abc123.mp3</Play>")
	assert.Contains(t, out, "/subject?")
	assert.Contains(t, out, "conferenceName=conf-CA100")
	assert.Contains(t, out, "ownerCallHandle=CA100")
	assert.Contains(t, out, `maxLength="5"`)
}

func TestIncomingUnknownCallerIsTurnedAway(t *testing.T) {
	fx := newFixture(t)

	out := render(t, fx.svc.HandleIncoming(context.Background(), "+16135559999", "CA100"))

	assert.Contains(t, out, "we don&#39;t recognize this number")
	assert.Contains(t, out, "<Hangup>")
	assert.NotContains(t, out, "<Record")
}

func TestIncomingLookupFailureApologizes(t *testing.T) {
	fx := newFixture(t)
	fx.repos.failUserLookup = true

	out := render(t, fx.svc.HandleIncoming(context.Background(), "+16135551234", "CA100"))

	assert.Contains(t, out, "something went wrong")
	assert.Contains(t, out, "<Hangup>")
}

func TestIncomingSynthesisFailureApologizes(t *testing.T) {
	fx := newFixture(t)
	fx.repos.addUser("6135551234", "Dana")
	fx.synth.fail = true

	out := render(t, fx.svc.HandleIncoming(context.Background(), "+16135551234", "CA100"))

	assert.Contains(t, out, "something went wrong")
	assert.Contains(t, out, "<Hangup>")
}

func TestSubjectCapturedCreatesRecordAndOffersChoice(t *testing.T) {
	fx := newFixture(t)
	user := fx.repos.addUser("6135551234", "Dana")
	sess := NewCallSession("CA100", "6135551234")

	out := render(t, fx.svc.HandleSubjectCaptured(context.Background(), sess, "https://api.example.com/RE-subject"))

	require.Len(t, fx.repos.transcriptions, 1)
	var txn *domain.Transcription
	for _, v := range fx.repos.transcriptions {
		txn = v
	}
	assert.Equal(t, user.ID, txn.UserID)
	assert.Equal(t, domain.SubjectPlaceholder, txn.Subject)
	assert.Equal(t, "https://api.example.com/RE-subject", txn.SubjectURL)
	assert.Equal(t, domain.StatusPending, txn.Status)

	assert.Contains(t, out, `numDigits="1"`)
	assert.Contains(t, out, "/addParticipant?")
	assert.Contains(t, out, "transcriptionId="+txn.ID)
	// Silence falls through to recording.
	assert.Contains(t, out, "/startRecording?")
}

func TestParticipantChoiceOneAsksForNumber(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1")

	out := render(t, fx.svc.HandleParticipantChoice(context.Background(), sess, "1", true))

	assert.Contains(t, out, `numDigits="11"`)
	assert.Contains(t, out, "/joinConference?")
	assert.Contains(t, out, "eleven digit")
}

func TestParticipantChoiceOtherDigitProceedsToRecording(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1")

	out := render(t, fx.svc.HandleParticipantChoice(context.Background(), sess, "5", true))

	assert.Contains(t, out, "<Redirect")
	assert.Contains(t, out, "/startRecording?")
	assert.NotContains(t, out, "<Gather")
}

func TestParticipantChoiceNoDigitsRendersChoiceAgain(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1")

	out := render(t, fx.svc.HandleParticipantChoice(context.Background(), sess, "", false))

	assert.Contains(t, out, `numDigits="1"`)
	assert.Contains(t, out, "/addParticipant?")
}

func TestDialOutPlacesCallAndParksOwner(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1")

	out := render(t, fx.svc.HandleDialOut(context.Background(), sess, "16135556789"))

	require.Len(t, fx.dialer.outbound, 1)
	placed := fx.dialer.outbound[0]
	assert.Equal(t, "+16135556789", placed.to)
	assert.Contains(t, placed.answerURL, "/joinConferenceCall?")
	assert.Contains(t, placed.answerURL, "conferenceName=conf-CA100")
	assert.Contains(t, placed.statusCallbackURL, "/calleeJoined?")
	// The callback carries the incremented count for the owner's next state.
	assert.Contains(t, placed.statusCallbackURL, "participantCount=2")
	assert.Contains(t, placed.statusCallbackURL, "transcriptionId=txn-1")

	assert.Contains(t, out, `startConferenceOnEnter="true"`)
	assert.Contains(t, out, `endConferenceOnExit="false"`)
	assert.Contains(t, out, ">conf-CA100</Conference>")
}

func TestDialOutFailureApologizes(t *testing.T) {
	fx := newFixture(t)
	fx.dialer.failDial = true
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1")

	out := render(t, fx.svc.HandleDialOut(context.Background(), sess, "16135556789"))

	assert.Contains(t, out, "something went wrong")
	assert.Contains(t, out, "<Hangup>")
}

func TestParticipantJoinRegistersLegWithoutStartingConference(t *testing.T) {
	fx := newFixture(t)

	out := render(t, fx.svc.HandleParticipantJoin(context.Background(), "conf-CA100", "CA-callee-1"))

	legs, err := fx.legs.Legs(context.Background(), "conf-CA100")
	require.NoError(t, err)
	assert.Equal(t, []string{"CA-callee-1"}, legs)

	assert.Contains(t, out, `startConferenceOnEnter="false"`)
	assert.Contains(t, out, `endConferenceOnExit="false"`)
}

func TestCalleeJoinedRedirectsOwnerOnce(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1").WithCount(2)

	require.NoError(t, fx.svc.HandleCalleeJoined(context.Background(), sess, "CA-callee-1", "in-progress"))
	// Provider retry of the same status callback.
	require.NoError(t, fx.svc.HandleCalleeJoined(context.Background(), sess, "CA-callee-1", "in-progress"))

	require.Len(t, fx.dialer.redirects, 1)
	assert.Equal(t, "CA100", fx.dialer.redirects[0].callSID)
	assert.Contains(t, fx.dialer.redirects[0].url, "/addParticipant?")
	assert.Contains(t, fx.dialer.redirects[0].url, "participantCount=2")
}

func TestCalleeJoinedIgnoresNonAnsweredStatus(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1").WithCount(2)

	require.NoError(t, fx.svc.HandleCalleeJoined(context.Background(), sess, "CA-callee-1", "ringing"))

	assert.Empty(t, fx.dialer.redirects)
}

func TestRecordingStartOwnerFansOutToParticipants(t *testing.T) {
	fx := newFixture(t)
	txn := &domain.Transcription{UserID: "user-1"}
	require.NoError(t, fx.repos.Transcriptions().Create(context.Background(), txn))

	sess := NewCallSession("CA100", "6135551234").WithTranscription(txn.ID).WithCount(3)
	require.NoError(t, fx.legs.RegisterLeg(context.Background(), sess.ConferenceName, "CA-callee-1", time.Hour))
	require.NoError(t, fx.legs.RegisterLeg(context.Background(), sess.ConferenceName, "CA-callee-2", time.Hour))

	out := render(t, fx.svc.HandleRecordingStart(context.Background(), sess, "CA100"))

	require.Len(t, fx.dialer.redirects, 2)
	redirected := map[string]bool{}
	for _, r := range fx.dialer.redirects {
		redirected[r.callSID] = true
		assert.Contains(t, r.url, "/startRecording?")
	}
	assert.True(t, redirected["CA-callee-1"])
	assert.True(t, redirected["CA-callee-2"])

	stored, err := fx.repos.Transcriptions().GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ExpectedLegs)

	assert.Contains(t, out, "<Play>https://calls.example.com/recording</Play>")
	assert.Contains(t, out, "<Play>https://calls.example.com/beep</Play>")
	assert.Contains(t, out, `maxLength="600"`)
	assert.Contains(t, out, `finishOnKey="1234567890*#"`)
	assert.Contains(t, out, "/twilioTranscription?")
	assert.Contains(t, out, "<Play>https://calls.example.com/end</Play>")
	assert.Contains(t, out, "<Hangup>")
}

func TestRecordingStartParticipantDoesNotFanOut(t *testing.T) {
	fx := newFixture(t)
	sess := NewCallSession("CA100", "6135551234").WithTranscription("txn-1").WithCount(2)
	require.NoError(t, fx.legs.RegisterLeg(context.Background(), sess.ConferenceName, "CA-callee-1", time.Hour))

	out := render(t, fx.svc.HandleRecordingStart(context.Background(), sess, "CA-callee-1"))

	assert.Empty(t, fx.dialer.redirects)
	assert.Contains(t, out, "<Record")
}

func TestRecordingCompleteReleasesBarrierOnFinalLeg(t *testing.T) {
	fx := newFixture(t)
	txn := &domain.Transcription{UserID: "user-1", ExpectedLegs: 2}
	require.NoError(t, fx.repos.Transcriptions().Create(context.Background(), txn))

	sess := NewCallSession("CA100", "6135551234").WithTranscription(txn.ID).WithCount(2)
	require.NoError(t, fx.legs.RegisterLeg(context.Background(), sess.ConferenceName, "CA-callee-1", time.Hour))

	out1 := render(t, fx.svc.HandleRecordingComplete(context.Background(), sess, "RE1", "https://api.example.com/RE1", 30))
	assert.Contains(t, out1, "<Hangup>")

	render(t, fx.svc.HandleRecordingComplete(context.Background(), sess, "RE2", "https://api.example.com/RE2", 45))

	// The barrier has been claimed and conference membership cleared.
	stored, err := fx.repos.Transcriptions().GetByID(context.Background(), txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, stored.Status)

	legs, err := fx.legs.Legs(context.Background(), sess.ConferenceName)
	require.NoError(t, err)
	assert.Empty(t, legs)
}

func TestConferenceNameIsStableAcrossSteps(t *testing.T) {
	sess := NewCallSession("CA42", "6135551234")
	next := sess.WithCount(4).WithTranscription("txn-9")
	assert.Equal(t, sess.ConferenceName, next.ConferenceName)
	assert.True(t, strings.HasPrefix(sess.ConferenceName, "conf-"))
}
