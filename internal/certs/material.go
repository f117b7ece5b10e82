package certs

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// MaterialProvider supplies the shared key material embedded in every client
// configuration.
type MaterialProvider interface {
	CACertificate() (string, error)
	TLSCryptKey() (string, error)
}

// FileMaterial reads the CA certificate and tls-crypt key from a shared
// volume on every call, so rotated files are picked up without a restart.
type FileMaterial struct {
	CACertPath string
	TAKeyPath  string
}

func (f FileMaterial) CACertificate() (string, error) {
	return readMaterial("CA certificate", f.CACertPath)
}

func (f FileMaterial) TLSCryptKey() (string, error) {
	return readMaterial("tls-crypt key", f.TAKeyPath)
}

func readMaterial(what, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("certs: %s path is not configured", what)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("certs: read %s: %w", what, err)
	}
	return string(raw), nil
}

type StaticMaterial struct {
	CA  string
	Key string
}

func (s StaticMaterial) CACertificate() (string, error) {
	return s.CA, nil
}

func (s StaticMaterial) TLSCryptKey() (string, error) {
	return s.Key, nil
}

// GenerateStaticKey returns a fresh 2048 bit OpenVPN static key suitable for
// tls-crypt.
func GenerateStaticKey() (string, error) {
	raw := make([]byte, 256)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("certs: generate static key: %w", err)
	}
	var b strings.Builder
	b.WriteString("-----BEGIN OpenVPN Static key V1-----\n")
	for i := 0; i < len(raw); i += 16 {
		b.WriteString(hex.EncodeToString(raw[i : i+16]))
		b.WriteByte('\n')
	}
	b.WriteString("-----END OpenVPN Static key V1-----\n")
	return b.String(), nil
}
