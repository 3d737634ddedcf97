package web

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	sessionCookieName = "mst_session"
	sessionCookieTTL  = 30 * 24 * time.Hour
)

// cookieSigner issues and verifies browser session ids. The cookie carries
// "<uuid>.<mac>" and only identifies the workflow session.
type cookieSigner struct {
	key    []byte
	secure bool
}

func newCookieSigner(secret string) (*cookieSigner, error) {
	key := make([]byte, 32)
	if secret == "" {
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate cookie key: %w", err)
		}
		return &cookieSigner{key: key}, nil
	}

	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("microstock-tagger session cookie"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return &cookieSigner{key: key}, nil
}

func (c *cookieSigner) sign(id string) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// verify returns the session id in value when the signature matches.
func (c *cookieSigner) verify(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", false
	}
	mac := hmac.New(sha256.New, c.key)
	mac.Write([]byte(id))
	if !hmac.Equal(got, mac.Sum(nil)) {
		return "", false
	}
	return id, true
}

// sessionID returns the browser's session id, issuing a new cookie when the
// request has none or a tampered one.
func (c *cookieSigner) sessionID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if id, ok := c.verify(cookie.Value); ok {
			return id
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    c.sign(id),
		Path:     "/",
		MaxAge:   int(sessionCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.secure || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
