// Package call implements the webhook-driven state machine that steers a
// recorded conference call: greeting, subject capture, participant dial-out,
// conference assembly, and per-leg recording collection. Each public Handle*
// method corresponds to one provider webhook; the voice-response document it
// returns is the only way to instruct the caller's leg, except for the
// out-of-band live-call redirect used when a dialed participant answers.
package call

import (
	"context"
	"time"

	"github.com/callscribe/voice-service/internal/config"
	"github.com/callscribe/voice-service/internal/domain"
	"github.com/callscribe/voice-service/internal/repository"
	"github.com/callscribe/voice-service/internal/services/aggregator"
	"github.com/callscribe/voice-service/internal/twiml"
	"github.com/callscribe/voice-service/pkg/logger"
	"github.com/callscribe/voice-service/pkg/redis"
	"go.uber.org/zap"
)

// Webhook endpoint paths. The service builds forward URLs from these; the
// handler layer registers them on the router.
const (
	PathVoice              = "/voice"
	PathSubject            = "/subject"
	PathAddParticipant     = "/addParticipant"
	PathJoinConference     = "/joinConference"
	PathJoinConferenceCall = "/joinConferenceCall"
	PathCalleeJoined       = "/calleeJoined"
	PathStartRecording     = "/startRecording"
	PathRecordingDone      = "/twilioTranscription"
)

// Dialer is the outbound side of the telephony provider: placing a call to a
// new participant and pushing new instructions into a connected leg.
type Dialer interface {
	StartOutboundCall(ctx context.Context, to, answerURL, statusCallbackURL string) (string, error)
	RedirectCall(ctx context.Context, callSID, url string) error
}

// Synthesizer produces the personalized greeting clip and returns the
// filename it was stored under (served from the personalized audio route).
type Synthesizer interface {
	SynthesizeGreeting(ctx context.Context, name string) (string, error)
}

const legTTL = 4 * time.Hour

// Service is the call orchestrator.
type Service struct {
	cfg   *config.Config
	repos repository.RepositoryManager
	dial  Dialer
	synth Synthesizer
	legs  redis.ServiceInterface
	agg   *aggregator.Service
}

// NewService creates the orchestrator.
func NewService(cfg *config.Config, repos repository.RepositoryManager, dial Dialer, synth Synthesizer, legs redis.ServiceInterface, agg *aggregator.Service) *Service {
	return &Service{cfg: cfg, repos: repos, dial: dial, synth: synth, legs: legs, agg: agg}
}

// url builds an absolute callback URL carrying the session state.
func (s *Service) url(path string, sess CallSession) string {
	return sess.CallbackURL(s.cfg.PublicBaseURL, path)
}

func (s *Service) assetURL(name string) string {
	return s.cfg.PublicBaseURL + name
}

// apology ends the call with a generic spoken apology. Used for every
// internal fault where a coherent prompt can still be produced; the provider
// hangs up afterwards. No state is mutated on this path.
func apology() *twiml.Response {
	return (&twiml.Response{}).Add(
		twiml.Say{Text: "We are sorry, something went wrong on our end. Please try your call again later."},
		twiml.Hangup{},
	)
}

// HandleIncoming is the entry state: a new inbound call. The caller is
// resolved by phone number, greeted with the intro clip plus a synthesized
// personalized clip, and asked to record the subject of the conversation.
func (s *Service) HandleIncoming(ctx context.Context, callerPhone, callSID string) *twiml.Response {
	phone := NormalizePhone(callerPhone)

	user, err := s.repos.Users().GetByPhone(ctx, phone)
	if err != nil {
		logger.Base().Error("caller lookup failed", zap.String("phone", phone), zap.Error(err))
		return apology()
	}
	if user == nil {
		logger.Base().Warn("unknown caller", zap.String("phone", phone))
		return (&twiml.Response{}).Add(
			twiml.Say{Text: "Sorry, we don't recognize this number. Please sign up before calling."},
			twiml.Hangup{},
		)
	}

	greetingFile, err := s.synth.SynthesizeGreeting(ctx, user.Name)
	if err != nil {
		logger.Base().Error("greeting synthesis failed", zap.String("user_id", user.ID), zap.Error(err))
		return apology()
	}

	sess := NewCallSession(callSID, phone)
	logger.Base().Info("call accepted",
		zap.String("call_sid", callSID),
		zap.String("conference", sess.ConferenceName),
		zap.String("user_id", user.ID))

	return (&twiml.Response{}).Add(
		twiml.Play{URL: s.assetURL("/intro")},
		twiml.Play{URL: s.assetURL("/personalized/" + greetingFile)},
		twiml.Say{Text: "After the beep, state the subject of your conversation."},
		twiml.Record{
			Action:    s.url(PathSubject, sess),
			Method:    "POST",
			MaxLength: s.cfg.SubjectMaxSeconds,
			Timeout:   s.cfg.GatherTimeoutSecs,
			PlayBeep:  "true",
		},
	)
}

// HandleSubjectCaptured fires when the subject clip finishes recording. It
// creates the transcription record (subject text stays a placeholder until
// downstream transcription resolves it) and offers the participant choice.
func (s *Service) HandleSubjectCaptured(ctx context.Context, sess CallSession, subjectURL string) *twiml.Response {
	user, err := s.repos.Users().GetByPhone(ctx, sess.CallerPhone)
	if err != nil || user == nil {
		logger.Base().Error("subject capture: owner lookup failed",
			zap.String("phone", sess.CallerPhone), zap.Error(err))
		return apology()
	}

	t := &domain.Transcription{
		UserID:     user.ID,
		Subject:    domain.SubjectPlaceholder,
		SubjectURL: subjectURL,
		Status:     domain.StatusPending,
	}
	if err := s.repos.Transcriptions().Create(ctx, t); err != nil {
		logger.Base().Error("failed to create transcription record", zap.Error(err))
		return apology()
	}

	sess = sess.WithTranscription(t.ID).WithCount(1)
	logger.Base().Info("subject captured",
		zap.String("transcription_id", t.ID),
		zap.String("conference", sess.ConferenceName))

	return s.participantChoice(sess)
}

// participantChoice renders the single-digit gather: press 1 to add a
// participant, anything else (or silence) proceeds to recording.
func (s *Service) participantChoice(sess CallSession) *twiml.Response {
	return (&twiml.Response{}).Add(
		twiml.Gather{
			Action:    s.url(PathAddParticipant, sess),
			Method:    "POST",
			NumDigits: 1,
			Timeout:   s.cfg.GatherTimeoutSecs,
			Verbs: []twiml.Verb{
				twiml.Say{Text: "Press 1 to add a participant. Press any other key to begin recording."},
			},
		},
		// Silence falls through the gather; treat it as "proceed".
		twiml.Redirect{Method: "POST", URL: s.url(PathStartRecording, sess)},
	)
}

// HandleParticipantChoice interprets the gathered digit. Three cases:
// digit "1" asks for the participant's number; any other digit proceeds to
// recording; absent digits means the owner was redirected back here
// out-of-band after a participant joined, so the choice is offered again.
func (s *Service) HandleParticipantChoice(ctx context.Context, sess CallSession, digits string, hasDigits bool) *twiml.Response {
	if !hasDigits {
		return s.participantChoice(sess)
	}

	if digits != "1" {
		return (&twiml.Response{}).Add(
			twiml.Redirect{Method: "POST", URL: s.url(PathStartRecording, sess)},
		)
	}

	return (&twiml.Response{}).Add(
		twiml.Gather{
			Action:      s.url(PathJoinConference, sess),
			Method:      "POST",
			NumDigits:   11,
			Timeout:     2 * s.cfg.GatherTimeoutSecs,
			FinishOnKey: "#",
			Verbs: []twiml.Verb{
				twiml.Say{Text: "Enter the participant's eleven digit phone number, starting with the country code."},
			},
		},
		twiml.Redirect{Method: "POST", URL: s.url(PathStartRecording, sess)},
	)
}

// HandleDialOut fans one inbound event into two legs and a deferred callback:
// the owner is parked in the conference, an outbound call is placed to the
// gathered number, and a status callback is registered so the owner's live
// call gets updated instructions once the new leg answers. All three carry
// the session in their URLs; there is no shared memory between them.
func (s *Service) HandleDialOut(ctx context.Context, sess CallSession, dialedNumber string) *twiml.Response {
	next := sess.WithCount(sess.ParticipantCount + 1)

	// The join URL carries only what the new leg needs; the status callback
	// carries the full session so the owner's redirect can rebuild it.
	joinSess := CallSession{ConferenceName: sess.ConferenceName, CallerPhone: sess.CallerPhone}
	answerURL := joinSess.CallbackURL(s.cfg.PublicBaseURL, PathJoinConferenceCall)
	statusURL := s.url(PathCalleeJoined, next)

	to := dialedNumber
	if len(to) > 0 && to[0] != '+' {
		to = "+" + to
	}

	calleeSID, err := s.dial.StartOutboundCall(ctx, to, answerURL, statusURL)
	if err != nil {
		logger.Base().Error("dial-out failed",
			zap.String("conference", sess.ConferenceName),
			zap.String("to", to),
			zap.Error(err))
		return apology()
	}

	logger.Base().Info("participant dial-out placed",
		zap.String("conference", sess.ConferenceName),
		zap.String("callee_sid", calleeSID),
		zap.Int("participant_count", next.ParticipantCount))

	// Park the owner in the conference. The session starts when the owner
	// enters and survives any single participant leaving.
	return (&twiml.Response{}).Add(
		twiml.Say{Text: "Calling your participant now. Please hold."},
		twiml.Dial{Verbs: []twiml.Verb{
			twiml.Conference{
				Name:                   sess.ConferenceName,
				StartConferenceOnEnter: "true",
				EndConferenceOnExit:    "false",
				Beep:                   "false",
			},
		}},
	)
}

// HandleParticipantJoin answers the new participant's leg: register it for
// the later recording fan-out and drop it into the conference. A participant
// never starts or ends the session.
func (s *Service) HandleParticipantJoin(ctx context.Context, conferenceName, callSID string) *twiml.Response {
	if err := s.legs.RegisterLeg(ctx, conferenceName, callSID, legTTL); err != nil {
		logger.Base().Error("failed to register participant leg",
			zap.String("conference", conferenceName),
			zap.String("call_sid", callSID),
			zap.Error(err))
		// The leg can still join; only the recording fan-out would miss it.
	}

	return (&twiml.Response{}).Add(
		twiml.Say{Text: "You are being connected to a recorded conversation."},
		twiml.Dial{Verbs: []twiml.Verb{
			twiml.Conference{
				Name:                   conferenceName,
				StartConferenceOnEnter: "false",
				EndConferenceOnExit:    "false",
				Beep:                   "true",
			},
		}},
	)
}

// HandleCalleeJoined is the deferred status callback: the dialed leg
// answered. The owner's in-progress call is redirected back to the
// participant choice with the incremented count. Replays of the same
// callback are absorbed so the count is never double-incremented.
func (s *Service) HandleCalleeJoined(ctx context.Context, sess CallSession, calleeCallSID, callStatus string) error {
	if callStatus != "" && callStatus != "in-progress" && callStatus != "answered" {
		return nil
	}

	first, err := s.legs.MarkOnce(ctx, redis.WEBHOOK_SEEN, "callee:"+calleeCallSID, legTTL)
	if err != nil {
		logger.Base().Error("callee-joined dedup check failed",
			zap.String("callee_sid", calleeCallSID), zap.Error(err))
		// Proceed: a missed dedup only risks a repeated prompt, while
		// dropping the event would strand the owner in the conference.
	} else if !first {
		logger.Base().Info("duplicate callee-joined callback ignored",
			zap.String("callee_sid", calleeCallSID))
		return nil
	}

	// No digits in this redirect: the choice prompt is rendered again.
	if err := s.dial.RedirectCall(ctx, sess.OwnerCallSID, s.url(PathAddParticipant, sess)); err != nil {
		logger.Base().Error("failed to redirect owner after callee joined",
			zap.String("owner_sid", sess.OwnerCallSID), zap.Error(err))
		return err
	}

	logger.Base().Info("owner redirected to participant choice",
		zap.String("conference", sess.ConferenceName),
		zap.Int("participant_count", sess.ParticipantCount))
	return nil
}

// HandleRecordingStart begins the bounded main recording for the requesting
// leg. When the owner reaches this state, every registered participant leg is
// redirected here too, so each leg produces its own recording callback.
// Redirected legs carry the same URL but a different CallSid, which keeps the
// fan-out from cascading.
func (s *Service) HandleRecordingStart(ctx context.Context, sess CallSession, requestCallSID string) *twiml.Response {
	if requestCallSID == sess.OwnerCallSID {
		s.fanOutRecording(ctx, sess)
		s.noteExpectedLegs(ctx, sess)
	}

	return (&twiml.Response{}).Add(
		twiml.Play{URL: s.assetURL("/recording")},
		twiml.Play{URL: s.assetURL("/beep")},
		twiml.Record{
			Action:      s.url(PathRecordingDone, sess),
			Method:      "POST",
			MaxLength:   s.cfg.MaxRecordingSeconds,
			FinishOnKey: "1234567890*#",
			PlayBeep:    "false",
		},
		twiml.Play{URL: s.assetURL("/end")},
		twiml.Hangup{},
	)
}

func (s *Service) fanOutRecording(ctx context.Context, sess CallSession) {
	legs, err := s.legs.Legs(ctx, sess.ConferenceName)
	if err != nil {
		logger.Base().Error("failed to list conference legs for fan-out",
			zap.String("conference", sess.ConferenceName), zap.Error(err))
		return
	}

	target := s.url(PathStartRecording, sess)
	for _, leg := range legs {
		if leg == sess.OwnerCallSID {
			continue
		}
		if err := s.dial.RedirectCall(ctx, leg, target); err != nil {
			logger.Base().Error("failed to redirect participant leg to recording",
				zap.String("call_sid", leg), zap.Error(err))
		}
	}
}

// noteExpectedLegs persists the expected count on the record so the
// abandoned-call sweep can report how far a stuck call got.
func (s *Service) noteExpectedLegs(ctx context.Context, sess CallSession) {
	if sess.TranscriptionID == "" {
		return
	}
	t, err := s.repos.Transcriptions().GetByID(ctx, sess.TranscriptionID)
	if err != nil || t == nil {
		logger.Base().Error("failed to load transcription for leg count",
			zap.String("transcription_id", sess.TranscriptionID), zap.Error(err))
		return
	}
	if t.ExpectedLegs == sess.ParticipantCount {
		return
	}
	t.ExpectedLegs = sess.ParticipantCount
	if err := s.repos.Transcriptions().Update(ctx, t); err != nil {
		logger.Base().Error("failed to persist expected leg count",
			zap.String("transcription_id", sess.TranscriptionID), zap.Error(err))
	}
}

// HandleRecordingComplete is the barrier: invoked once per leg, arbitrarily
// interleaved. The append-and-count runs atomically in the aggregator; this
// leg's response just closes its side of the call.
func (s *Service) HandleRecordingComplete(ctx context.Context, sess CallSession, recordingSID, recordingURL string, duration int) *twiml.Response {
	status, err := s.agg.Append(ctx, sess.TranscriptionID, recordingSID, recordingURL, duration, sess.ParticipantCount)
	if err != nil {
		logger.Base().Error("failed to aggregate recording",
			zap.String("transcription_id", sess.TranscriptionID),
			zap.String("recording_sid", recordingSID),
			zap.Error(err))
		return apology()
	}

	logger.Base().Info("recording leg complete",
		zap.String("transcription_id", sess.TranscriptionID),
		zap.String("barrier", status.String()))

	if status.Complete {
		if err := s.legs.ClearLegs(ctx, sess.ConferenceName); err != nil {
			logger.Base().Warn("failed to clear conference legs",
				zap.String("conference", sess.ConferenceName), zap.Error(err))
		}
	}

	return (&twiml.Response{}).Add(
		twiml.Play{URL: s.assetURL("/end")},
		twiml.Hangup{},
	)
}
