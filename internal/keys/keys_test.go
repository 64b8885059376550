package keys

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureGeneratesAndPersists(t *testing.T) {
	dir := t.TempDir()

	kp, err := Ensure(dir, "server")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if len(kp.Kid) != KidLength {
		t.Fatalf("expected kid of length %d, got %d", KidLength, len(kp.Kid))
	}
	for _, r := range kp.Kid {
		if r < 'a' || r > 'z' {
			t.Fatalf("kid contains non-lowercase character: %q", kp.Kid)
		}
	}
	if kp.Private.N.BitLen() < 2048 {
		t.Fatalf("expected >=2048-bit modulus, got %d", kp.Private.N.BitLen())
	}
	if _, err := os.Stat(filepath.Join(dir, "server.key")); err != nil {
		t.Fatalf("private key file missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "server.pub")); err != nil {
		t.Fatalf("public key file missing: %v", err)
	}
}

func TestEnsureLoadsExistingKey(t *testing.T) {
	dir := t.TempDir()

	first, err := Ensure(dir, "server")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := Ensure(dir, "server")
	if err != nil {
		t.Fatalf("Ensure reload: %v", err)
	}
	if first.Kid != second.Kid {
		t.Fatalf("kid changed across restarts: %s vs %s", first.Kid, second.Kid)
	}
	if first.Private.N.Cmp(second.Private.N) != 0 {
		t.Fatalf("loaded key differs from generated key")
	}
}

func TestEnsureRejectsCorruptKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "server.key"), []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if _, err := Ensure(dir, "server"); err == nil {
		t.Fatalf("expected error for corrupt key file")
	}
}

func TestExportPublicIsPEM(t *testing.T) {
	dir := t.TempDir()
	kp, err := Ensure(dir, "server")
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	pub, err := kp.ExportPublic()
	if err != nil {
		t.Fatalf("ExportPublic: %v", err)
	}
	if !strings.HasPrefix(pub, "-----BEGIN PUBLIC KEY-----") {
		t.Fatalf("unexpected public key encoding: %q", pub[:40])
	}
}
