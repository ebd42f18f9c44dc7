package telephony

import (
	"encoding/xml"
	"errors"
	"net/url"
	"strings"
)

// DefaultAnnouncement is spoken while the media stream connects.
const DefaultAnnouncement = "جاري الاتصال"

// TwiML documents. Twilio expects Content-Type: text/xml.
type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlSay struct {
	Language string `xml:"language,attr,omitempty"`
	Voice    string `xml:"voice,attr,omitempty"`
	Text     string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// DirectiveParams parameterize the connect-stream document.
type DirectiveParams struct {
	PublicBaseURL string
	SubjectID     string
	CallID        string
	Announcement  string // spoken first; empty disables
	Language      string // defaults to "ar"
}

// MediaStreamURL is the bridge endpoint Twilio connects to for subjectID.
// The call id rides along in the query so the bridge knows it before the
// stream's start event.
func MediaStreamURL(publicBase, subjectID, callID string) string {
	u := strings.TrimRight(WebSocketBase(publicBase), "/") + "/media/" + url.PathEscape(subjectID)
	if callID != "" {
		u += "?callSid=" + url.QueryEscape(callID)
	}
	return u
}

// BuildDirective renders the TwiML that opens a bidirectional media stream to
// the bridge. It does no I/O.
func BuildDirective(p DirectiveParams) ([]byte, error) {
	if strings.TrimSpace(p.SubjectID) == "" {
		return nil, errors.New("telephony: directive needs a subject id")
	}
	lang := p.Language
	if lang == "" {
		lang = "ar"
	}

	params := []twimlParameter{{Name: "subjectId", Value: p.SubjectID}}
	if p.CallID != "" {
		params = append(params, twimlParameter{Name: "callSid", Value: p.CallID})
	}

	resp := twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{
			URL:        MediaStreamURL(p.PublicBaseURL, p.SubjectID, p.CallID),
			Parameters: params,
		}},
	}
	if p.Announcement != "" {
		resp.Say = &twimlSay{Language: lang, Text: p.Announcement}
	}
	return marshalTwiML(resp)
}

// BuildHangupDirective renders TwiML that says message and hangs up. Used
// when the bridge cannot take the call.
func BuildHangupDirective(message, language string) ([]byte, error) {
	resp := twimlResponse{Hangup: &struct{}{}}
	if message != "" {
		if language == "" {
			language = "ar"
		}
		resp.Say = &twimlSay{Language: language, Text: message}
	}
	return marshalTwiML(resp)
}

func marshalTwiML(resp twimlResponse) ([]byte, error) {
	out, err := xml.MarshalIndent(resp, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// WebSocketBase turns the public HTTP base URL into its websocket form.
func WebSocketBase(publicBase string) string {
	// http://x -> ws://x
	// https://x -> wss://x
	if strings.HasPrefix(publicBase, "https://") {
		return "wss://" + strings.TrimPrefix(publicBase, "https://")
	}
	if strings.HasPrefix(publicBase, "http://") {
		return "ws://" + strings.TrimPrefix(publicBase, "http://")
	}
	// assume already host[:port]
	return "wss://" + publicBase
}
