package webhook

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	ErrMissingSignature = errors.New("webhook: missing signature")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	ErrStaleTimestamp   = errors.New("webhook: stale timestamp")
	ErrNoPublicKey      = errors.New("webhook: no public key configured")
)

// Ed25519 signatures are rejected outside this window around the current time.
const replayWindow = 5 * time.Minute

// Verifier checks inbound webhook signatures for every supported carrier
// scheme under one set of URL trust rules.
type Verifier struct {
	cfg    TrustConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewVerifier creates a Verifier. A nil logger defaults to zap.NewNop().
func NewVerifier(cfg TrustConfig, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{cfg: cfg, logger: logger, now: time.Now}
}

// RequestURL reconstructs the externally visible URL under the verifier's
// trust configuration.
func (v *Verifier) RequestURL(req *Request) string {
	return RequestURL(req, v.cfg)
}

// skipped reports whether verification is globally disabled, logging the
// bypass so it is never mistaken for a cryptographic pass.
func (v *Verifier) skipped(scheme string) bool {
	if !v.cfg.SkipVerification {
		return false
	}
	v.logger.Warn("webhook verification skipped, request accepted unverified",
		zap.String("scheme", scheme))
	return true
}

// VerifyHMACSHA1 checks a Twilio-style signature: base64 HMAC-SHA1 over the
// request URL concatenated with every POST parameter sorted by key.
//
// When the trust config opts into the tunnel loopback carve-out and the
// request arrived from a loopback address through a public-tunnel hostname, a
// failed signature is still accepted with a logged warning: free-tier tunnels
// rewrite the Host header the carrier signed.
func (v *Verifier) VerifyHMACSHA1(req *Request, secret, signature string) error {
	if v.skipped("hmac-sha1") {
		return nil
	}
	if signature == "" {
		return ErrMissingSignature
	}

	reqURL := v.RequestURL(req)
	payload := reqURL + sortedParamConcat(req.PostForm)

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if hmac.Equal([]byte(expected), []byte(signature)) {
		return nil
	}

	if v.cfg.AllowTunnelLoopback && isTunnelHost(hostOf(reqURL)) && isLoopback(req.RemoteAddr) {
		v.logger.Warn("signature check failed but request accepted: loopback tunnel carve-out",
			zap.String("url", reqURL),
			zap.String("remote", req.RemoteAddr))
		return nil
	}

	return ErrInvalidSignature
}

// VerifyHMACSHA256V3 checks a Plivo V3 signature: base64 HMAC-SHA256 over the
// request method, the URL with query and POST parameters sorted by key, and
// the nonce. The signature header may carry a comma-separated candidate list;
// any match passes.
func (v *Verifier) VerifyHMACSHA256V3(req *Request, secret, signatures, nonce string) error {
	if v.skipped("hmac-sha256-v3") {
		return nil
	}
	if signatures == "" || nonce == "" {
		return ErrMissingSignature
	}

	params := url.Values{}
	for k, vals := range req.Query() {
		params[k] = vals
	}
	for k, vals := range req.PostForm {
		params[k] = vals
	}

	payload := req.Method + baseURLOf(v.RequestURL(req)) + sortedParamConcat(params) + "." + nonce
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Split(signatures, ",") {
		if hmac.Equal([]byte(expected), []byte(strings.TrimSpace(candidate))) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// VerifyHMACSHA256V2 checks a Plivo V2 signature: base64 HMAC-SHA256 over the
// request URL stripped of its query string, concatenated with the nonce.
func (v *Verifier) VerifyHMACSHA256V2(req *Request, secret, signature, nonce string) error {
	if v.skipped("hmac-sha256-v2") {
		return nil
	}
	if signature == "" || nonce == "" {
		return ErrMissingSignature
	}

	payload := baseURLOf(v.RequestURL(req)) + "." + nonce
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// Ed25519Options control Telnyx-style verification.
type Ed25519Options struct {
	// AllowUnverified accepts the request with a warning when no public key
	// is configured instead of failing closed.
	AllowUnverified bool
}

// VerifyEd25519 checks a Telnyx-style signature: Ed25519 over
// "timestamp|rawBody" with a base64 public key and signature. Timestamps more
// than five minutes from the current time are rejected regardless of the
// signature.
func (v *Verifier) VerifyEd25519(req *Request, publicKeyB64, signatureB64, timestamp string, opts Ed25519Options) error {
	if v.skipped("ed25519") {
		return nil
	}
	if publicKeyB64 == "" {
		if opts.AllowUnverified {
			v.logger.Warn("no webhook public key configured, request accepted unverified")
			return nil
		}
		return ErrNoPublicKey
	}
	if signatureB64 == "" || timestamp == "" {
		return ErrMissingSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	reqTime := time.Unix(ts, 0)
	now := v.now()
	if now.Sub(reqTime) > replayWindow || reqTime.Sub(now) > replayWindow {
		return ErrStaleTimestamp
	}

	pub, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return ErrNoPublicKey
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return ErrInvalidSignature
	}

	message := append([]byte(timestamp+"|"), req.Body...)
	if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// sortedParamConcat concatenates parameters as key+value pairs sorted by key,
// repeating keys with multiple values in value order.
func sortedParamConcat(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, val := range params[k] {
			b.WriteString(k)
			b.WriteString(val)
		}
	}
	return b.String()
}

func baseURLOf(fullURL string) string {
	if i := strings.IndexByte(fullURL, '?'); i >= 0 {
		return fullURL[:i]
	}
	return fullURL
}

func hostOf(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return ""
	}
	return u.Host
}
