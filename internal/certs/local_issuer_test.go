package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLocalIssuerIssuesClientCertificates(t *testing.T) {
	issuer, err := NewLocalIssuer("vpngw test CA")
	if err != nil {
		t.Fatalf("NewLocalIssuer returned error: %v", err)
	}

	bundle, err := issuer.Issue(context.Background(), "gw-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if !strings.Contains(bundle.PrivateKey, "RSA PRIVATE KEY") {
		t.Fatalf("private key is not PEM RSA: %q", bundle.PrivateKey[:40])
	}

	block, _ := pem.Decode([]byte(bundle.Certificate))
	if block == nil {
		t.Fatal("certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if cert.Subject.CommonName != "gw-1" {
		t.Fatalf("subject CN = %s, want gw-1", cert.Subject.CommonName)
	}

	_, err = cert.Verify(x509.VerifyOptions{
		Roots:     issuer.CertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if err != nil {
		t.Fatalf("certificate does not verify against the CA: %v", err)
	}
}

func TestLocalIssuerRevoke(t *testing.T) {
	ctx := context.Background()
	issuer, err := NewLocalIssuer("vpngw test CA")
	if err != nil {
		t.Fatalf("NewLocalIssuer returned error: %v", err)
	}


	bundle, err := issuer.Issue(ctx, "gw-1")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if revoked, _ := issuer.IsRevoked(bundle.Certificate); revoked {
		t.Fatal("fresh certificate reported revoked")
	}
	if err := issuer.Revoke(ctx, "gw-1"); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	revoked, err := issuer.IsRevoked(bundle.Certificate)
	if err != nil {
		t.Fatalf("IsRevoked returned error: %v", err)
	}
	if !revoked {
		t.Fatal("revoked certificate reported valid")
	}
}

func TestLocalIssuerRevokeUnknownAfterRestart(t *testing.T) {
	ctx := context.Background()
	before, err := NewLocalIssuer("vpngw test CA")
	if err != nil {
		t.Fatalf("NewLocalIssuer returned error: %v", err)
	}
	if _, err := before.Issue(ctx, "gw-1"); err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	after, err := NewLocalIssuer("vpngw test CA")
	if err != nil {
		t.Fatalf("NewLocalIssuer returned error: %v", err)
	}
	if err := after.Revoke(ctx, "gw-1"); err != nil {
		t.Fatalf("Revoke of a name issued by a previous instance returned error: %v", err)
	}
	if err := after.Revoke(ctx, "never-issued"); err != nil {
		t.Fatalf("Revoke(never-issued) returned error: %v", err)
	}
}

func TestLoadLocalIssuerFromFiles(t *testing.T) {
	generated, err := NewLocalIssuer("vpngw file CA")
	if err != nil {
		t.Fatalf("NewLocalIssuer returned error: %v", err)
	}

	dir := t.TempDir()
	certPath := filepath.Join(dir, "ca.crt")
	keyPath := filepath.Join(dir, "ca.key")
	if err := os.WriteFile(certPath, []byte(generated.CACertificate()), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(generated.caKey)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}

	loaded, err := LoadLocalIssuer(certPath, keyPath)
	if err != nil {
		t.Fatalf("LoadLocalIssuer returned error: %v", err)
	}
	if loaded.CACertificate() != generated.CACertificate() {
		t.Fatal("loaded CA certificate differs from the generated one")
	}
	if _, err := loaded.Issue(context.Background(), "gw-file"); err != nil {
		t.Fatalf("Issue with loaded CA returned error: %v", err)
	}
}
