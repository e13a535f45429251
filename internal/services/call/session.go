package call

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Query parameter names used to thread call state between webhook callbacks.
// There is no server-side session object for an in-progress call: every
// endpoint reconstructs its state from these parameters, which the previous
// step encoded into the callback URL it handed to the provider.
const (
	ParamConference      = "conferenceName"
	ParamOwner           = "ownerCallHandle"
	ParamCount           = "participantCount"
	ParamUsername        = "username"
	ParamTranscriptionID = "transcriptionId"
)

// CallSession is the complete state of one logical call, reconstructed
// per-request. It is immutable; With* methods return modified copies so a
// handler can never leak state into another leg's view of the call.
type CallSession struct {
	// ConferenceName identifies the multi-party session. Derived from the
	// initiating call's SID and identical across every webhook of the call.
	ConferenceName string
	// OwnerCallSID is the call leg of the person who dialed in. Used to push
	// updated instructions into their live call.
	OwnerCallSID string
	// ParticipantCount is the number of legs expected to deliver a recording.
	ParticipantCount int
	// CallerPhone is the owner's normalized number, used to resolve the user.
	CallerPhone string
	// TranscriptionID keys the persisted record once subject capture created it.
	TranscriptionID string
}

// NewCallSession starts a session for an inbound call.
func NewCallSession(callSID, callerPhone string) CallSession {
	return CallSession{
		ConferenceName:   ConferenceNameFor(callSID),
		OwnerCallSID:     callSID,
		ParticipantCount: 1,
		CallerPhone:      callerPhone,
	}
}

// ConferenceNameFor derives the conference name from the inbound call SID.
// Deterministic so every webhook of the same call computes the same name.
func ConferenceNameFor(callSID string) string {
	return "conf-" + callSID
}

// WithCount returns a copy with the participant count replaced.
func (s CallSession) WithCount(n int) CallSession {
	s.ParticipantCount = n
	return s
}

// WithTranscription returns a copy carrying the transcription record ID.
func (s CallSession) WithTranscription(id string) CallSession {
	s.TranscriptionID = id
	return s
}

// Encode serializes the session into query parameters for the next callback URL.
func (s CallSession) Encode() url.Values {
	v := url.Values{}
	if s.ConferenceName != "" {
		v.Set(ParamConference, s.ConferenceName)
	}
	if s.OwnerCallSID != "" {
		v.Set(ParamOwner, s.OwnerCallSID)
	}
	if s.ParticipantCount > 0 {
		v.Set(ParamCount, strconv.Itoa(s.ParticipantCount))
	}
	if s.CallerPhone != "" {
		v.Set(ParamUsername, s.CallerPhone)
	}
	if s.TranscriptionID != "" {
		v.Set(ParamTranscriptionID, s.TranscriptionID)
	}
	return v
}

// CallbackURL builds the absolute URL of the next webhook, carrying the
// session state in the query string.
func (s CallSession) CallbackURL(base, path string) string {
	return base + path + "?" + s.Encode().Encode()
}

// MissingFieldError reports a required session parameter that was absent from
// a webhook. Handlers fail closed on it: HTTP error, no voice document.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required session parameter %q", e.Field)
}

// DecodeSession reconstructs a CallSession from forwarded query parameters.
func DecodeSession(query url.Values) CallSession {
	count := 0
	if raw := query.Get(ParamCount); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			count = n
		}
	}
	return CallSession{
		ConferenceName:   query.Get(ParamConference),
		OwnerCallSID:     query.Get(ParamOwner),
		ParticipantCount: count,
		CallerPhone:      query.Get(ParamUsername),
		TranscriptionID:  query.Get(ParamTranscriptionID),
	}
}

// Require verifies that the named parameters were present, returning a
// MissingFieldError for the first absent one.
func (s CallSession) Require(fields ...string) error {
	for _, f := range fields {
		switch f {
		case ParamConference:
			if s.ConferenceName == "" {
				return &MissingFieldError{Field: f}
			}
		case ParamOwner:
			if s.OwnerCallSID == "" {
				return &MissingFieldError{Field: f}
			}
		case ParamCount:
			if s.ParticipantCount <= 0 {
				return &MissingFieldError{Field: f}
			}
		case ParamUsername:
			if s.CallerPhone == "" {
				return &MissingFieldError{Field: f}
			}
		case ParamTranscriptionID:
			if s.TranscriptionID == "" {
				return &MissingFieldError{Field: f}
			}
		default:
			return fmt.Errorf("unknown session parameter %q", f)
		}
	}
	return nil
}

// NormalizePhone strips a single leading "+1" country prefix. No other
// formats are normalized; numbers are stored the way the provider sends them
// minus that prefix.
func NormalizePhone(phone string) string {
	return strings.TrimPrefix(phone, "+1")
}
