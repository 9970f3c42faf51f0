package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/keithlinneman/svcmw/internal/cfg"
	"github.com/keithlinneman/svcmw/internal/httpserver"
	"github.com/keithlinneman/svcmw/internal/jws"
	"github.com/keithlinneman/svcmw/internal/log"
)

func TestLoadAuthnConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "authn.yaml")
	doc := "issuers:\n  - issuer: iam.test\n    audience: [example.org]\n    algorithm: HS256\n    key_pem: secret\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, source, err := loadAuthnConfig(context.Background(), cfg.App{
		AuthnConfigPath: path,
		AuthnSSMParam:   "/ignored",
	})
	if err != nil {
		t.Fatalf("loadAuthnConfig: %v", err)
	}
	if source != "file" {
		t.Fatalf("source = %q, want file", source)
	}
	if got := c.Issuers(); len(got) != 1 || got[0] != "iam.test" {
		t.Fatalf("issuers = %v, want [iam.test]", got)
	}
}

func TestLoadAuthnConfig_MissingFile(t *testing.T) {
	_, _, err := loadAuthnConfig(context.Background(), cfg.App{
		AuthnConfigPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoopbackSeed(t *testing.T) {
	if loopbackSeed("") != nil {
		t.Fatal("empty audience should disable seeding")
	}
	seed := loopbackSeed("internal.example.org")

	tests := []struct {
		remote string
		ok     bool
	}{
		{"127.0.0.1:5000", true},
		{"[::1]:5000", true},
		{"[::ffff:127.0.0.1]:5000", true},
		{"10.0.0.8:5000", false},
		{"203.0.113.9:5000", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.RemoteAddr = tt.remote
		// headers never grant a seed
		r.Header.Set("X-Forwarded-For", "127.0.0.1")
		id, ok := seed(r)
		if ok != tt.ok {
			t.Fatalf("%s: ok = %v, want %v", tt.remote, ok, tt.ok)
		}
		if ok && id.Audience != "internal.example.org" {
			t.Fatalf("%s: audience = %q", tt.remote, id.Audience)
		}
	}
}

func TestRoutes_LoopbackSeedGrantsAnonymous(t *testing.T) {
	d, _, _ := newTestDemo(t)
	vc, err := jws.NewConfig([]jws.IssuerSpec{{
		Issuer:    "iam.test",
		Audience:  []string{"example.org"},
		Algorithm: "HS256",
		KeyPEM:    "secret",
	}}, "")
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	h := httpserver.NewHandler(httpserver.Options{
		Logger:      log.Nop(),
		AuthnConfig: vc,
		SeedAccount: loopbackSeed("internal.example.org"),
		Routes:      d.routes,
	})

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "anonymous.internal.example.org") {
		t.Fatalf("loopback: %d %s", rec.Code, rec.Body.String())
	}

	r = httptest.NewRequest(http.MethodGet, "/me", nil)
	r.RemoteAddr = "198.51.100.7:40000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("remote status = %d, want 401", rec.Code)
	}
}

func TestNotifySystemd_NoSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	err := notifySystemd()
	if err == nil || !strings.Contains(err.Error(), "NOTIFY_SOCKET not set") {
		t.Fatalf("err = %v, want NOTIFY_SOCKET not set", err)
	}
}

func TestNotifySystemd_SendsReady(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "notify.sock")
	conn, err := net.ListenPacket("unixgram", sock)
	if err != nil {
		t.Skipf("unixgram not available: %v", err)
	}
	defer conn.Close()
	t.Setenv("NOTIFY_SOCKET", sock)

	if err := notifySystemd(); err != nil {
		t.Fatalf("notifySystemd: %v", err)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != "READY=1" {
		t.Fatalf("message = %q, want READY=1", got)
	}
}
