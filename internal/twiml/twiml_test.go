package twiml

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderIncludesXMLDeclaration(t *testing.T) {
	doc := (&Response{}).Add(Hangup{})

	out, err := doc.Render()
	require.NoError(t, err)

	assert.Contains(t, out, `<?xml version="1.0" encoding="UTF-8"?>`)
	assert.Contains(t, out, "<Response>")
	assert.Contains(t, out, "<Hangup>")
}

func TestRenderSayAndPlay(t *testing.T) {
	doc := (&Response{}).Add(
		Say{Text: "hello there"},
		Play{URL: "https://example.com/intro"},
	)

	out, err := doc.Render()
	require.NoError(t, err)

	assert.Contains(t, out, "<Say>hello there</Say>")
	assert.Contains(t, out, "<Play>https://example.com/intro</Play>")
}

func TestRenderRecordAttributes(t *testing.T) {
	doc := (&Response{}).Add(Record{
		Action:      "https://example.com/subject?conferenceName=conf-CA1",
		Method:      "POST",
		MaxLength:   5,
		PlayBeep:    "true",
		FinishOnKey: "#",
	})

	out, err := doc.Render()
	require.NoError(t, err)

	assert.Contains(t, out, `action="https://example.com/subject?conferenceName=conf-CA1"`)
	assert.Contains(t, out, `method="POST"`)
	assert.Contains(t, out, `maxLength="5"`)
	assert.Contains(t, out, `playBeep="true"`)
	assert.Contains(t, out, `finishOnKey="#"`)
}

func TestRenderGatherNestsVerbs(t *testing.T) {
	doc := (&Response{}).Add(
		Gather{
			Action:    "https://example.com/addParticipant",
			NumDigits: 1,
			Timeout:   5,
			Verbs: []Verb{
				Say{Text: "Press 1 to add a participant."},
			},
		},
		Redirect{Method: "POST", URL: "https://example.com/startRecording"},
	)

	out, err := doc.Render()
	require.NoError(t, err)

	assert.Contains(t, out, `numDigits="1"`)
	assert.Contains(t, out, "<Say>Press 1 to add a participant.</Say>")
	// The fall-through redirect must come after the gather closes.
	assert.Less(t, strings.Index(out, "</Gather>"), strings.Index(out, "<Redirect"))
}

func TestRenderConferenceLifecycleAttributes(t *testing.T) {
	doc := (&Response{}).Add(Dial{Verbs: []Verb{
		Conference{
			Name:                   "conf-CA123",
			StartConferenceOnEnter: "true",
			EndConferenceOnExit:    "false",
			Beep:                   "false",
		},
	}})

	out, err := doc.Render()
	require.NoError(t, err)

	assert.Contains(t, out, `startConferenceOnEnter="true"`)
	assert.Contains(t, out, `endConferenceOnExit="false"`)
	assert.Contains(t, out, ">conf-CA123</Conference>")
}

func TestRenderEscapesQueryParameters(t *testing.T) {
	doc := (&Response{}).Add(Redirect{
		URL: "https://example.com/startRecording?conferenceName=conf-CA1&participantCount=2",
	})

	out, err := doc.Render()
	require.NoError(t, err)

	// Ampersands in URLs must be XML-escaped.
	assert.Contains(t, out, "conf-CA1&amp;participantCount=2")
}
