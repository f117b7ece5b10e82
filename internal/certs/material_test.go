package certs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileMaterialReadsOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	caPath := filepath.Join(dir, "ca.crt")
	taPath := filepath.Join(dir, "ta.key")
	if err := os.WriteFile(caPath, []byte("CA-1"), 0o600); err != nil {
		t.Fatalf("write ca: %v", err)
	}
	if err := os.WriteFile(taPath, []byte("TA-1"), 0o600); err != nil {
		t.Fatalf("write ta: %v", err)
	}

	material := FileMaterial{CACertPath: caPath, TAKeyPath: taPath}
	if ca, err := material.CACertificate(); err != nil || ca != "CA-1" {
		t.Fatalf("CACertificate = %q, %v", ca, err)
	}

	if err := os.WriteFile(taPath, []byte("TA-2"), 0o600); err != nil {
		t.Fatalf("rewrite ta: %v", err)
	}
	if ta, err := material.TLSCryptKey(); err != nil || ta != "TA-2" {
		t.Fatalf("TLSCryptKey = %q, %v, want the rotated key", ta, err)
	}

	if _, err := (FileMaterial{}).CACertificate(); err == nil {
		t.Fatal("CACertificate without a path returned nil error")
	}
}

func TestGenerateStaticKey(t *testing.T) {
	key, err := GenerateStaticKey()
	if err != nil {
		t.Fatalf("GenerateStaticKey returned error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(key), "\n")
	if len(lines) != 18 {
		t.Fatalf("static key has %d lines, want 18", len(lines))
	}
	if lines[0] != "-----BEGIN OpenVPN Static key V1-----" || len(lines[1]) != 32 {
		t.Fatalf("unexpected static key layout: %q", lines[:2])
	}
}
