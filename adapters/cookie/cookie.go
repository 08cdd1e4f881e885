// Package cookie flushes cookies staged by handlers to the response,
// optionally signing their values with a keyed BLAKE2b MAC.
package cookie

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/artpar/convey/core/route"
	"golang.org/x/crypto/blake2b"
)

var (
	// ErrInvalidSignature is returned when a signed value fails verification.
	ErrInvalidSignature = errors.New("invalid cookie signature")

	// ErrNoSecret is returned by NewSigner for an empty secret.
	ErrNoSecret = errors.New("cookie secret is empty")
)

const separator = "."

// Signer signs and verifies cookie values.
type Signer struct {
	key []byte
}

// NewSigner derives a 32-byte MAC key from secret.
func NewSigner(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key := blake2b.Sum256([]byte(secret))
	return &Signer{key: key[:]}, nil
}

func (s *Signer) mac(value string) []byte {
	h, err := blake2b.New256(s.key)
	if err != nil {
		// Only returned for keys longer than 64 bytes.
		panic(err)
	}
	h.Write([]byte(value))
	return h.Sum(nil)
}

// Sign returns value with its signature appended.
func (s *Signer) Sign(value string) string {
	return value + separator + base64.RawURLEncoding.EncodeToString(s.mac(value))
}

// Verify checks a signed value and returns the original.
func (s *Signer) Verify(signed string) (string, error) {
	idx := strings.LastIndex(signed, separator)
	if idx < 0 {
		return "", ErrInvalidSignature
	}
	value, sig := signed[:idx], signed[idx+1:]

	got, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return "", ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare(got, s.mac(value)) != 1 {
		return "", ErrInvalidSignature
	}
	return value, nil
}

// Defaults are applied to staged cookies that leave the field unset.
type Defaults struct {
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// Persister writes staged cookies. It implements dispatch.Persister.
type Persister struct {
	signer   *Signer
	defaults Defaults
}

// NewPersister creates a persister. A nil signer leaves values unsigned.
func NewPersister(signer *Signer, defaults Defaults) *Persister {
	if defaults.Path == "" {
		defaults.Path = "/"
	}
	if defaults.SameSite == 0 {
		defaults.SameSite = http.SameSiteLaxMode
	}
	return &Persister{signer: signer, defaults: defaults}
}

// Persist writes every cookie staged on req. Nothing is written if any
// cookie is invalid.
func (p *Persister) Persist(w http.ResponseWriter, req *route.Request) error {
	staged := req.Cookies()
	out := make([]*http.Cookie, 0, len(staged))

	for _, c := range staged {
		if c == nil {
			continue
		}
		cp := *c
		p.applyDefaults(&cp)
		if p.signer != nil && cp.MaxAge >= 0 {
			cp.Value = p.signer.Sign(cp.Value)
		}
		if err := cp.Valid(); err != nil {
			return fmt.Errorf("cookie %q: %w", c.Name, err)
		}
		out = append(out, &cp)
	}

	for _, c := range out {
		http.SetCookie(w, c)
	}
	return nil
}

func (p *Persister) applyDefaults(c *http.Cookie) {
	if c.Path == "" {
		c.Path = p.defaults.Path
	}
	if c.Domain == "" {
		c.Domain = p.defaults.Domain
	}
	if !c.Secure {
		c.Secure = p.defaults.Secure
	}
	if !c.HttpOnly {
		c.HttpOnly = p.defaults.HTTPOnly
	}
	if c.SameSite == 0 {
		c.SameSite = p.defaults.SameSite
	}
}

// Read returns the verified value of the named request cookie.
func (p *Persister) Read(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	if p.signer == nil {
		return c.Value, nil
	}
	return p.signer.Verify(c.Value)
}
