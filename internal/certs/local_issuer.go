package certs

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// 2^128 as largest serial
var serialLimit = new(big.Int).Lsh(big.NewInt(1), 128)

const (
	defaultClientTTL = 365 * 24 * time.Hour
	defaultKeyBits   = 2048
)

// LocalIssuer is an in-process certificate authority for single host and
// development deployments. Revocations are kept in memory.
type LocalIssuer struct {
	caCert  *x509.Certificate
	caKey   crypto.Signer
	caPEM   string
	ttl     time.Duration
	keyBits int
	now     func() time.Time

	mutex   sync.Mutex
	issued  map[string][]*big.Int
	revoked map[string]time.Time
}

type LocalIssuerOption func(*LocalIssuer)

func WithClientTTL(ttl time.Duration) LocalIssuerOption {
	return func(l *LocalIssuer) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// NewLocalIssuer generates a fresh self-signed CA named caName.
func NewLocalIssuer(caName string, opts ...LocalIssuerOption) (*LocalIssuer, error) {
	key, err := rsa.GenerateKey(rand.Reader, defaultKeyBits)
	if err != nil {
		return nil, fmt.Errorf("certs: generate CA key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	template := &x509.Certificate{
		Subject:               pkix.Name{CommonName: caName},
		SerialNumber:          serial,
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return nil, fmt.Errorf("certs: self-sign CA: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}

	log.Info("Generated in-process certificate authority", "subject", caName)
	return newLocalIssuer(cert, key, opts...), nil
}

// LoadLocalIssuer reads a PEM CA certificate and its PKCS#1, PKCS#8 or EC key.
func LoadLocalIssuer(certPath, keyPath string, opts ...LocalIssuerOption) (*LocalIssuer, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("certs: read CA certificate: %w", err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("certs: read CA key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, errors.New("certs: CA certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA certificate: %w", err)
	}

	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, err
	}
	return newLocalIssuer(cert, key, opts...), nil
}

func newLocalIssuer(cert *x509.Certificate, key crypto.Signer, opts ...LocalIssuerOption) *LocalIssuer {
	issuer := &LocalIssuer{
		caCert:  cert,
		caKey:   key,
		caPEM:   string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})),
		ttl:     defaultClientTTL,
		keyBits: defaultKeyBits,
		issued:  make(map[string][]*big.Int),
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer
}

func (l *LocalIssuer) Issue(ctx context.Context, commonName string) (Bundle, error) {
	if err := ctx.Err(); err != nil {
		return Bundle{}, err
	}

	key, err := rsa.GenerateKey(rand.Reader, l.keyBits)
	if err != nil {
		return Bundle{}, fmt.Errorf("certs: generate key for %s: %w", commonName, err)
	}
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return Bundle{}, err
	}

	now := l.now()
	template := &x509.Certificate{
		Subject:               pkix.Name{CommonName: commonName},
		SerialNumber:          serial,
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(l.ttl),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, l.caCert, key.Public(), l.caKey)
	if err != nil {
		return Bundle{}, fmt.Errorf("certs: sign certificate for %s: %w", commonName, err)
	}

	l.mutex.Lock()
	l.issued[commonName] = append(l.issued[commonName], serial)
	l.mutex.Unlock()

	return Bundle{
		Certificate: string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		PrivateKey:  string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})),
	}, nil
}

// Revoke marks every certificate issued to commonName as revoked. Names
// issued before a restart are unknown here and only logged.
func (l *LocalIssuer) Revoke(ctx context.Context, commonName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	serials, ok := l.issued[commonName]
	if !ok {
		log.Warn("No certificate issued by this CA instance, skipping revoke", "common_name", commonName)
		return nil
	}
	revokedAt := l.now()
	for _, serial := range serials {
		l.revoked[serial.String()] = revokedAt
	}
	delete(l.issued, commonName)
	return nil
}

// IsRevoked reports whether the PEM certificate was revoked by this CA.
func (l *LocalIssuer) IsRevoked(certificatePEM string) (bool, error) {
	block, _ := pem.Decode([]byte(certificatePEM))
	if block == nil {
		return false, errors.New("certs: certificate is not PEM encoded")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return false, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()
	_, revoked := l.revoked[cert.SerialNumber.String()]
	return revoked, nil
}

// CACertificate returns the CA certificate in PEM form.
func (l *LocalIssuer) CACertificate() string {
	return l.caPEM
}

func (l *LocalIssuer) CertPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(l.caCert)
	return pool
}

func parsePrivateKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("certs: CA key is not PEM encoded")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("certs: parse CA key: %w", err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, errors.New("certs: CA key cannot sign")
	}
	return signer, nil
}
