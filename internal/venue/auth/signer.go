// Package auth implements request signing for the venue's authenticated
// REST and websocket surfaces.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Credentials is an opaque API key/secret pair. It is held in memory only and
// must never reach the state snapshot.
type Credentials struct {
	Key    string
	Secret string
}

// Empty reports whether either half of the pair is missing.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Key) == "" || strings.TrimSpace(c.Secret) == ""
}

// Header names attached to every signed REST call.
const (
	HeaderAPIKey = "X-API-KEY"
	HeaderNonce  = "X-API-NONCE"
	HeaderSign   = "X-API-SIGN"
)

// SignedRequest is the immutable result of signing one request.
type SignedRequest struct {
	Method    string
	URL       string
	Nonce     int64
	Signature string
	Message   string
	Headers   http.Header
}

// Signer produces signed headers for REST calls and the websocket login
// payload. One Signer (and its nonce source) is shared by every call path of
// a credential scope so nonces stay consistent across endpoints.
type Signer struct {
	creds        Credentials
	nonces       *NonceSource
	signPathOnly bool
}

// NewSigner constructs a signer. signPathOnly selects the known-incompatible
// legacy mode that signs only the request path; callers must gate it behind
// explicit configuration.
func NewSigner(creds Credentials, nonces *NonceSource, signPathOnly bool) *Signer {
	if nonces == nil {
		nonces = NewNonceSource(1)
	}
	return &Signer{creds: creds, nonces: nonces, signPathOnly: signPathOnly}
}

// Sign returns the hex-encoded HMAC-SHA256 of message under the secret.
func (s *Signer) Sign(message string) string {
	mac := hmac.New(sha256.New, []byte(s.creds.Secret))
	_, _ = mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignRequest signs one REST call. absURL is the absolute request URL without
// query string; query is appended (sorted) for GET requests and body is the
// canonical JSON payload for the rest. The signed message is
// key + dataToSign + nonce.
func (s *Signer) SignRequest(method, absURL string, query url.Values, body []byte) SignedRequest {
	target := absURL
	if s.signPathOnly {
		if parsed, err := url.Parse(absURL); err == nil {
			target = parsed.Path
		}
	}

	dataToSign := target
	if strings.EqualFold(method, http.MethodGet) {
		if len(query) > 0 {
			dataToSign = target + "?" + query.Encode()
		}
	} else if len(body) > 0 {
		dataToSign = target + string(body)
	}

	nonce := s.nonces.Next()
	message := s.creds.Key + dataToSign + strconv.FormatInt(nonce, 10)
	signature := s.Sign(message)

	headers := make(http.Header, 3)
	headers.Set(HeaderAPIKey, s.creds.Key)
	headers.Set(HeaderNonce, strconv.FormatInt(nonce, 10))
	headers.Set(HeaderSign, signature)

	return SignedRequest{
		Method:    strings.ToUpper(method),
		URL:       absURL,
		Nonce:     nonce,
		Signature: signature,
		Message:   message,
		Headers:   headers,
	}
}

// LoginPayload builds the websocket authentication frame. The nonce is a
// random alphanumeric token signed directly.
func (s *Signer) LoginPayload() (map[string]any, error) {
	token, err := randomToken(14)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"method": "login",
		"params": map[string]any{
			"algo":      "HS256",
			"pKey":      s.creds.Key,
			"nonce":     token,
			"signature": s.Sign(token),
		},
	}, nil
}

// CanonicalBody serializes a request body with sorted keys and no extra
// whitespace so the signed bytes match the transmitted bytes exactly.
func CanonicalBody(body map[string]any) ([]byte, error) {
	if len(body) == 0 {
		return nil, nil
	}
	return json.Marshal(body)
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomToken(length int) (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = tokenAlphabet[n.Int64()]
	}
	return string(out), nil
}
