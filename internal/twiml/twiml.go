// Package twiml builds the declarative voice-response documents returned to
// the telephony provider. Every webhook answer is one Response document; the
// provider executes its verbs in order and calls back into the next endpoint.
package twiml

import "encoding/xml"

// Verb is implemented by every TwiML verb and noun.
type Verb interface {
	verb()
}

// Response is the root document.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []Verb
}

// Render marshals the document with the XML declaration the provider expects.
func (r *Response) Render() (string, error) {
	body, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(body), nil
}

// Add appends verbs and returns the response for chaining.
func (r *Response) Add(verbs ...Verb) *Response {
	r.Verbs = append(r.Verbs, verbs...)
	return r
}

// Say speaks text to the caller.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Loop     int      `xml:"loop,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

func (Say) verb() {}

// Play plays an audio file by URL.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

func (Play) verb() {}

// Pause waits silently.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

func (Pause) verb() {}

// Record records the caller's audio and POSTs the recording reference to
// Action when it finishes.
type Record struct {
	XMLName     xml.Name `xml:"Record"`
	Action      string   `xml:"action,attr,omitempty"`
	Method      string   `xml:"method,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	MaxLength   int      `xml:"maxLength,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	PlayBeep    string   `xml:"playBeep,attr,omitempty"`
	Trim        string   `xml:"trim,attr,omitempty"`
}

func (Record) verb() {}

// Gather collects keypad digits and POSTs them to Action. Nested verbs play
// while the provider waits for input; if the gather times out with no digits
// the provider falls through to the verbs after the Gather.
type Gather struct {
	XMLName     xml.Name `xml:"Gather"`
	Action      string   `xml:"action,attr,omitempty"`
	Method      string   `xml:"method,attr,omitempty"`
	Timeout     int      `xml:"timeout,attr,omitempty"`
	NumDigits   int      `xml:"numDigits,attr,omitempty"`
	FinishOnKey string   `xml:"finishOnKey,attr,omitempty"`
	Verbs       []Verb
}

func (Gather) verb() {}

// Dial connects the current leg to another party or conference.
type Dial struct {
	XMLName xml.Name `xml:"Dial"`
	Action  string   `xml:"action,attr,omitempty"`
	Method  string   `xml:"method,attr,omitempty"`
	Verbs   []Verb
}

func (Dial) verb() {}

// Number dials a phone number inside a Dial.
type Number struct {
	XMLName xml.Name `xml:"Number"`
	Phone   string   `xml:",chardata"`
}

func (Number) verb() {}

// Conference joins the leg to a named multi-party session inside a Dial.
// StartConferenceOnEnter and EndConferenceOnExit govern the session lifecycle
// relative to this leg; they must be emitted even when false, so they are
// plain strings rather than omitempty bools.
type Conference struct {
	XMLName                xml.Name `xml:"Conference"`
	StartConferenceOnEnter string   `xml:"startConferenceOnEnter,attr,omitempty"`
	EndConferenceOnExit    string   `xml:"endConferenceOnExit,attr,omitempty"`
	Beep                   string   `xml:"beep,attr,omitempty"`
	WaitURL                string   `xml:"waitUrl,attr,omitempty"`
	StatusCallback         string   `xml:"statusCallback,attr,omitempty"`
	StatusCallbackEvent    string   `xml:"statusCallbackEvent,attr,omitempty"`
	Name                   string   `xml:",chardata"`
}

func (Conference) verb() {}

// Redirect fetches the next document from another endpoint.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

func (Redirect) verb() {}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

func (Hangup) verb() {}
