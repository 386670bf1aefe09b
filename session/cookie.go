package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const cookieName = "oauth_session"

var (
	ErrNoSession = errors.New("no session cookie")
	ErrExpired   = errors.New("session expired")
)

// Data is what a login session carries.
type Data struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

func sign(message string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verify(message, sig string, secret []byte) bool {
	return hmac.Equal([]byte(sig), []byte(sign(message, secret)))
}

// encode returns "<base64 json>.<signature>".
func encode(d *Data, secret []byte) (string, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	value := base64.RawURLEncoding.EncodeToString(raw)
	return fmt.Sprintf("%s.%s", value, sign(value, secret)), nil
}

func decode(cookie string, secret []byte, now time.Time) (*Data, error) {
	value, sig, ok := strings.Cut(cookie, ".")
	if !ok {
		return nil, errors.New("invalid session cookie format")
	}
	if !verify(value, sig, secret) {
		return nil, errors.New("invalid session signature")
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	var d Data
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	if now.Unix() > d.ExpiresAt {
		return nil, ErrExpired
	}
	return &d, nil
}

// readCookie verifies the session cookie found in h.
func readCookie(h http.Header, secret []byte, now time.Time) (*Data, error) {
	r := http.Request{Header: h}
	c, err := r.Cookie(cookieName)
	if err != nil {
		return nil, ErrNoSession
	}
	return decode(c.Value, secret, now)
}
