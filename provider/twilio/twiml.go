package twilio

import "encoding/xml"

// TwiML call-control elements. Marshaling through encoding/xml escapes
// user-supplied text in chardata and attributes.

// Response is the TwiML document root. Verbs execute in field order.
type Response struct {
	XMLName xml.Name `xml:"Response"`
	Say     *Say     `xml:",omitempty"`
	Gather  *Gather  `xml:",omitempty"`
	Connect *Connect `xml:",omitempty"`
	Pause   *Pause   `xml:",omitempty"`
	Hangup  *Hangup  `xml:",omitempty"`
}

// Say speaks text with the carrier's TTS voice.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather captures caller speech and posts the result to Action.
type Gather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr,omitempty"`
	Action        string   `xml:"action,attr,omitempty"`
	Method        string   `xml:"method,attr,omitempty"`
	SpeechTimeout string   `xml:"speechTimeout,attr,omitempty"`
	SpeechModel   string   `xml:"speechModel,attr,omitempty"`
	Say           *Say     `xml:",omitempty"`
}

// Connect attaches a bidirectional media stream to the call.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  *Stream  `xml:",omitempty"`
}

// Stream points the media stream at a WebSocket endpoint.
type Stream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// Pause keeps the line open.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Render marshals the response with the XML declaration carriers expect.
func (r *Response) Render() string {
	data, err := xml.Marshal(r)
	if err != nil {
		// The element structs contain nothing unmarshalable; reaching
		// this means a programming error upstream.
		return xml.Header + "<Response/>"
	}
	return xml.Header + string(data)
}

// holdOpen is the reply that keeps the line open awaiting call control.
func holdOpen() string {
	return (&Response{Pause: &Pause{Length: 120}}).Render()
}

func sayAndHold(text, voice string) string {
	return (&Response{
		Say:   &Say{Voice: voice, Text: text},
		Pause: &Pause{Length: 120},
	}).Render()
}

func gatherSpeech(action string) string {
	return (&Response{
		Gather: &Gather{
			Input:         "speech",
			Action:        action,
			Method:        "POST",
			SpeechTimeout: "auto",
			SpeechModel:   "phone_call",
		},
		Pause: &Pause{Length: 60},
	}).Render()
}

func connectStream(streamURL string) string {
	return (&Response{
		Connect: &Connect{Stream: &Stream{URL: streamURL}},
	}).Render()
}

func hangupDoc() string {
	return (&Response{Hangup: &Hangup{}}).Render()
}
