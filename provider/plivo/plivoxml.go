package plivo

import "encoding/xml"

// Plivo XML call-control elements. encoding/xml escapes user-supplied text.

// Response is the Plivo XML document root. Elements execute in field order.
type Response struct {
	XMLName  xml.Name  `xml:"Response"`
	Speak    *Speak    `xml:",omitempty"`
	GetInput *GetInput `xml:",omitempty"`
	Wait     *Wait     `xml:",omitempty"`
	Hangup   *Hangup   `xml:",omitempty"`
}

// Speak plays synthesized speech.
type Speak struct {
	XMLName xml.Name `xml:"Speak"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// GetInput captures caller speech and posts the result to Action.
type GetInput struct {
	XMLName          xml.Name `xml:"GetInput"`
	InputType        string   `xml:"inputType,attr,omitempty"`
	Action           string   `xml:"action,attr,omitempty"`
	Method           string   `xml:"method,attr,omitempty"`
	ExecutionTimeout int      `xml:"executionTimeout,attr,omitempty"`
}

// Wait keeps the line open.
type Wait struct {
	XMLName xml.Name `xml:"Wait"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Hangup ends the call.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Render marshals the response with the XML declaration.
func (r *Response) Render() string {
	data, err := xml.Marshal(r)
	if err != nil {
		return xml.Header + "<Response/>"
	}
	return xml.Header + string(data)
}

func holdOpen() string {
	return (&Response{Wait: &Wait{Length: 120}}).Render()
}

func getSpeech(action string) string {
	return (&Response{
		GetInput: &GetInput{
			InputType:        "speech",
			Action:           action,
			Method:           "POST",
			ExecutionTimeout: 30,
		},
		Wait: &Wait{Length: 60},
	}).Render()
}

func hangupDoc() string {
	return (&Response{Hangup: &Hangup{}}).Render()
}
