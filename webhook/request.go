// Package webhook verifies the authenticity of inbound carrier webhooks.
//
// Each carrier signs its webhooks differently (HMAC-SHA1, HMAC-SHA256 v2/v3,
// Ed25519); all schemes share the request-URL reconstruction rules that decide
// when proxy and tunnel forwarding headers may be trusted. Secret comparisons
// are constant-time.
package webhook

import (
	"io"
	"net/http"
	"net/url"
)

// Request is the immutable view of an inbound webhook delivery that
// verification operates on. The body has already been read in full.
type Request struct {
	Method     string
	Host       string
	Path       string
	RawQuery   string
	TLS        bool
	Header     http.Header
	RemoteAddr string
	Body       []byte
	PostForm   url.Values
}

// NewRequest captures an *http.Request into a Request, reading the body.
// The caller is responsible for any body size cap (http.MaxBytesReader).
func NewRequest(r *http.Request) (*Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	req := &Request{
		Method:     r.Method,
		Host:       r.Host,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		TLS:        r.TLS != nil,
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
		Body:       body,
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mediaTypeIsForm(ct) {
			form, err := url.ParseQuery(string(body))
			if err == nil {
				req.PostForm = form
			}
		}
	}
	return req, nil
}

func mediaTypeIsForm(ct string) bool {
	const form = "application/x-www-form-urlencoded"
	return len(ct) >= len(form) && ct[:len(form)] == form
}

// Query returns the parsed query parameters.
func (r *Request) Query() url.Values {
	v, err := url.ParseQuery(r.RawQuery)
	if err != nil {
		return url.Values{}
	}
	return v
}
