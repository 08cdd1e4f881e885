package cookie

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/artpar/convey/core/route"
)

func TestSigner(t *testing.T) {
	s, err := NewSigner("secret")
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}

	signed := s.Sign("user.42")
	if !strings.HasPrefix(signed, "user.42.") {
		t.Errorf("Sign() = %s", signed)
	}

	got, err := s.Verify(signed)
	if err != nil || got != "user.42" {
		t.Errorf("Verify() = %s, %v", got, err)
	}

	other, _ := NewSigner("other")
	tests := []string{
		"user.42",
		"nodot",
		signed + "x",
		"user.43" + signed[len("user.42"):],
		other.Sign("user.42"),
		"value.!!!",
	}
	for _, bad := range tests {
		if _, err := s.Verify(bad); !errors.Is(err, ErrInvalidSignature) {
			t.Errorf("Verify(%q) error = %v, want ErrInvalidSignature", bad, err)
		}
	}
}

func TestNewSigner_Empty(t *testing.T) {
	if _, err := NewSigner(""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewSigner(\"\") error = %v", err)
	}
}

func TestPersister_Persist(t *testing.T) {
	signer, _ := NewSigner("secret")
	p := NewPersister(signer, Defaults{HTTPOnly: true})

	req := route.NewRequest(context.Background(), "GET", "/", nil)
	req.SetCookie(&http.Cookie{Name: "session", Value: "abc"})
	req.SetCookie(&http.Cookie{Name: "theme", Value: "dark", Path: "/app"})

	rec := httptest.NewRecorder()
	if err := p.Persist(rec, req); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("cookies = %d, want 2", len(cookies))
	}
	if cookies[0].Path != "/" || !cookies[0].HttpOnly || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Errorf("defaults not applied: %+v", cookies[0])
	}
	if cookies[1].Path != "/app" {
		t.Errorf("explicit path overwritten: %s", cookies[1].Path)
	}

	// Staged cookies are not modified.
	if req.Cookies()[0].Value != "abc" {
		t.Error("Persist() modified the staged cookie")
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(cookies[0])
	got, err := p.Read(r, "session")
	if err != nil || got != "abc" {
		t.Errorf("Read() = %s, %v", got, err)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "session", Value: "abc.forged"})
	if _, err := p.Read(r, "session"); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("Read(forged) error = %v", err)
	}
}

func TestPersister_InvalidCookie(t *testing.T) {
	p := NewPersister(nil, Defaults{})
	req := route.NewRequest(context.Background(), "GET", "/", nil)
	req.SetCookie(&http.Cookie{Name: "ok", Value: "1"})
	req.SetCookie(&http.Cookie{Name: "bad name", Value: "1"})

	rec := httptest.NewRecorder()
	if err := p.Persist(rec, req); err == nil {
		t.Fatal("Persist() should reject an invalid cookie name")
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("no cookies should be written when one is invalid")
	}
}

func TestPersister_Unsigned(t *testing.T) {
	p := NewPersister(nil, Defaults{})
	req := route.NewRequest(context.Background(), "GET", "/", nil)
	req.SetCookie(&http.Cookie{Name: "plain", Value: "v"})

	rec := httptest.NewRecorder()
	if err := p.Persist(rec, req); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if c := rec.Result().Cookies(); len(c) != 1 || c[0].Value != "v" {
		t.Errorf("cookies = %+v", c)
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.AddCookie(&http.Cookie{Name: "plain", Value: "v"})
	if got, err := p.Read(r, "plain"); err != nil || got != "v" {
		t.Errorf("Read() = %s, %v", got, err)
	}
}
