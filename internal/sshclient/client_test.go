package sshclient

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/treykane/sshmux/internal/fault"
	"github.com/treykane/sshmux/internal/model"
	"golang.org/x/crypto/ssh"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestBuildAuthMethodsRequiresCredentials(t *testing.T) {
	_, err := buildAuthMethods(model.ConnectionSpec{Name: "x", Host: "h", Username: "u"})
	if !fault.IsKind(err, fault.Authentication) {
		t.Fatalf("expected Authentication fault, got %v", err)
	}
}

func TestBuildAuthMethodsFromKeyFile(t *testing.T) {
	keyPath := writeTestKey(t)
	methods, err := buildAuthMethods(model.ConnectionSpec{
		Name: "x", Host: "h", Username: "u", KeyFile: keyPath,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(methods) != 1 {
		t.Fatalf("expected 1 auth method, got %d", len(methods))
	}
}

func TestBuildAuthMethodsBadKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := buildAuthMethods(model.ConnectionSpec{
		Name: "x", Host: "h", Username: "u", KeyFile: path,
	})
	if !fault.IsKind(err, fault.Authentication) {
		t.Fatalf("expected Authentication fault for unparseable key, got %v", err)
	}
}

func TestClassifyHandshakeErr(t *testing.T) {
	cases := []struct {
		msg  string
		kind fault.Kind
	}{
		{"ssh: handshake failed: ssh: unable to authenticate, attempted methods [none password]", fault.Authentication},
		{"ssh: handshake failed: read tcp: connection reset by peer", fault.Connect},
		{"ssh: no supported methods remain", fault.Authentication},
	}
	for _, c := range cases {
		err := classifyHandshakeErr(errString(c.msg), "h:22")
		if fault.KindOf(err) != c.kind {
			t.Errorf("%q: got %q, want %q", c.msg, fault.KindOf(err), c.kind)
		}
	}
}

type errString string

func (e errString) Error() string { return string(e) }

func TestSpecAddrDefaultsPort(t *testing.T) {
	s := model.ConnectionSpec{Host: "example.com"}
	if s.Addr() != "example.com:22" {
		t.Fatalf("got %q", s.Addr())
	}
	s.Port = 2222
	if s.Addr() != "example.com:2222" {
		t.Fatalf("got %q", s.Addr())
	}
}
