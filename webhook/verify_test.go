package webhook

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func signSHA1(secret, payload string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signSHA256(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func formRequest(host, path string, form url.Values) *Request {
	return &Request{
		Method:     http.MethodPost,
		Host:       host,
		Path:       path,
		Header:     http.Header{},
		RemoteAddr: "203.0.113.9:4711",
		PostForm:   form,
	}
}

func TestVerifyHMACSHA1(t *testing.T) {
	const secret = "tw-secret"
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "ringing")

	req := formRequest("gw.example.com", "/webhook", form)
	// URL + params sorted by key.
	sig := signSHA1(secret, "http://gw.example.com/webhookCallSidCA123CallStatusringing")

	v := NewVerifier(TrustConfig{}, nil)
	if err := v.VerifyHMACSHA1(req, secret, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tampered := formRequest("gw.example.com", "/webhook", url.Values{
		"CallSid": {"CA123"}, "CallStatus": {"completed"},
	})
	if err := v.VerifyHMACSHA1(tampered, secret, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body: got %v, want ErrInvalidSignature", err)
	}

	if err := v.VerifyHMACSHA1(req, secret, ""); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("missing signature: got %v, want ErrMissingSignature", err)
	}
}

func TestVerifyHMACSHA1ForwardedHostTrust(t *testing.T) {
	const secret = "tw-secret"
	form := url.Values{"CallSid": {"CA123"}}

	// Carrier signed the public tunnel URL; the request arrives with the
	// internal host and a forwarding header.
	publicSig := signSHA1(secret, "https://abc.example-tunnel.dev/webhookCallSidCA123")

	req := formRequest("127.0.0.1:8080", "/webhook", form)
	req.Header.Set("X-Forwarded-Host", "abc.example-tunnel.dev")

	// Untrusted forwarded host: reconstruction ignores the header, check fails.
	v := NewVerifier(TrustConfig{}, nil)
	if err := v.VerifyHMACSHA1(req, secret, publicSig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("untrusted forwarded host: got %v, want ErrInvalidSignature", err)
	}

	// Allow-listed host: reconstruction uses it (https implied), check passes.
	v = NewVerifier(TrustConfig{AllowedHosts: []string{"abc.example-tunnel.dev"}}, nil)
	if err := v.VerifyHMACSHA1(req, secret, publicSig); err != nil {
		t.Errorf("allow-listed forwarded host rejected: %v", err)
	}

	// Trusted-proxy restriction: same header from an unlisted peer is ignored.
	v = NewVerifier(TrustConfig{
		AllowedHosts:   []string{"abc.example-tunnel.dev"},
		TrustedProxies: []string{"10.0.0.1"},
	}, nil)
	if err := v.VerifyHMACSHA1(req, secret, publicSig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("unlisted proxy peer: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyHMACSHA1TunnelLoopbackCarveOut(t *testing.T) {
	req := formRequest("abc.ngrok-free.app", "/webhook", url.Values{"CallSid": {"CA123"}})
	req.RemoteAddr = "127.0.0.1:52001"

	v := NewVerifier(TrustConfig{AllowTunnelLoopback: true}, nil)
	if err := v.VerifyHMACSHA1(req, "secret", "bogus-signature"); err != nil {
		t.Errorf("loopback tunnel carve-out should accept: %v", err)
	}

	// Same bad signature from a non-loopback peer still fails.
	req.RemoteAddr = "203.0.113.9:4711"
	if err := v.VerifyHMACSHA1(req, "secret", "bogus-signature"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("non-loopback peer: got %v, want ErrInvalidSignature", err)
	}
}

func TestSkipVerification(t *testing.T) {
	v := NewVerifier(TrustConfig{SkipVerification: true}, nil)
	req := formRequest("gw.example.com", "/webhook", nil)
	if err := v.VerifyHMACSHA1(req, "secret", ""); err != nil {
		t.Errorf("skip should accept anything: %v", err)
	}
	if err := v.VerifyEd25519(req, "", "", "", Ed25519Options{}); err != nil {
		t.Errorf("skip should accept anything: %v", err)
	}
}

func TestVerifyHMACSHA256V2(t *testing.T) {
	const secret = "pl-token"
	req := formRequest("gw.example.com", "/webhook", nil)
	req.RawQuery = "action=listen"

	// V2 signs the URL stripped of its query.
	sig := signSHA256(secret, "http://gw.example.com/webhook.nonce-1")

	v := NewVerifier(TrustConfig{}, nil)
	if err := v.VerifyHMACSHA256V2(req, secret, sig, "nonce-1"); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := v.VerifyHMACSHA256V2(req, secret, sig, "nonce-2"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("wrong nonce: got %v, want ErrInvalidSignature", err)
	}
	if err := v.VerifyHMACSHA256V2(req, secret, "", "nonce-1"); !errors.Is(err, ErrMissingSignature) {
		t.Errorf("missing signature: got %v, want ErrMissingSignature", err)
	}
}

func TestVerifyHMACSHA256V3(t *testing.T) {
	const secret = "pl-token"
	form := url.Values{"CallUUID": {"u-1"}, "Event": {"StartApp"}}
	req := formRequest("gw.example.com", "/webhook", form)
	req.RawQuery = "action=listen"

	// Method + base URL + merged query/post params sorted by key + "." + nonce.
	payload := "POSThttp://gw.example.com/webhookCallUUIDu-1EventStartAppactionlisten.n-9"
	sig := signSHA256(secret, payload)

	v := NewVerifier(TrustConfig{}, nil)
	if err := v.VerifyHMACSHA256V3(req, secret, sig, "n-9"); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	// A candidate list passes when any entry matches.
	if err := v.VerifyHMACSHA256V3(req, secret, "nope,"+sig, "n-9"); err != nil {
		t.Errorf("candidate list with one match rejected: %v", err)
	}
	if err := v.VerifyHMACSHA256V3(req, secret, "nope,also-nope", "n-9"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("no matching candidate: got %v, want ErrInvalidSignature", err)
	}
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)

	now := time.Unix(1700000000, 0)
	body := []byte(`{"data":{"event_type":"call.answered"}}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, append([]byte(ts+"|"), body...)))

	v := NewVerifier(TrustConfig{}, nil)
	v.now = func() time.Time { return now }

	req := &Request{Method: http.MethodPost, Host: "gw.example.com", Path: "/webhook",
		Header: http.Header{}, RemoteAddr: "203.0.113.9:1", Body: body}

	if err := v.VerifyEd25519(req, pubB64, sig, ts, Ed25519Options{}); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	tampered := *req
	tampered.Body = []byte(`{"data":{"event_type":"call.hangup"}}`)
	if err := v.VerifyEd25519(&tampered, pubB64, sig, ts, Ed25519Options{}); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body: got %v, want ErrInvalidSignature", err)
	}

	staleTS := strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10)
	staleSig := base64.StdEncoding.EncodeToString(ed25519.Sign(priv, append([]byte(staleTS+"|"), body...)))
	if err := v.VerifyEd25519(req, pubB64, staleSig, staleTS, Ed25519Options{}); !errors.Is(err, ErrStaleTimestamp) {
		t.Errorf("stale timestamp: got %v, want ErrStaleTimestamp", err)
	}

	if err := v.VerifyEd25519(req, "", sig, ts, Ed25519Options{}); !errors.Is(err, ErrNoPublicKey) {
		t.Errorf("no key: got %v, want ErrNoPublicKey", err)
	}
	if err := v.VerifyEd25519(req, "", sig, ts, Ed25519Options{AllowUnverified: true}); err != nil {
		t.Errorf("AllowUnverified with no key should accept: %v", err)
	}
}

func TestRequestURL(t *testing.T) {
	tests := []struct {
		name string
		req  *Request
		cfg  TrustConfig
		want string
	}{
		{
			name: "plain http",
			req:  &Request{Host: "gw.example.com", Path: "/webhook", Header: http.Header{}},
			want: "http://gw.example.com/webhook",
		},
		{
			name: "tls with query",
			req:  &Request{Host: "gw.example.com", Path: "/webhook", RawQuery: "a=1", TLS: true, Header: http.Header{}},
			want: "https://gw.example.com/webhook?a=1",
		},
		{
			name: "forwarded host ignored by default",
			req: &Request{Host: "127.0.0.1:8080", Path: "/webhook",
				Header: http.Header{"X-Forwarded-Host": {"pub.example.com"}}},
			want: "http://127.0.0.1:8080/webhook",
		},
		{
			name: "forwarded host honored when trusted, https implied",
			req: &Request{Host: "127.0.0.1:8080", Path: "/webhook",
				Header: http.Header{"X-Forwarded-Host": {"pub.example.com"}}},
			cfg:  TrustConfig{TrustForwarding: true},
			want: "https://pub.example.com/webhook",
		},
		{
			name: "forwarded chain takes first entry",
			req: &Request{Host: "127.0.0.1:8080", Path: "/webhook",
				Header: http.Header{"X-Forwarded-Host": {"pub.example.com, inner.local"}}},
			cfg:  TrustConfig{TrustForwarding: true},
			want: "https://pub.example.com/webhook",
		},
		{
			name: "forwarded proto wins over implied https",
			req: &Request{Host: "127.0.0.1:8080", Path: "/webhook",
				Header: http.Header{
					"X-Original-Host":   {"pub.example.com"},
					"X-Forwarded-Proto": {"http"},
				}},
			cfg:  TrustConfig{AllowedHosts: []string{"pub.example.com"}},
			want: "http://pub.example.com/webhook",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RequestURL(tt.req, tt.cfg); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
