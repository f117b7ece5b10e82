package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrGatewayNotFound = errors.New("gateway not found")
	ErrGatewayExists   = errors.New("gateway already exists")
)

// Gateway is the persisted identity of a provisioned VPN gateway. Values are
// never mutated in place; the With* helpers return modified copies.
type Gateway struct {
	CommonName  string    `gorm:"primaryKey;size:255"`
	IPAddress   *string   `gorm:"column:ip_address;size:45;uniqueIndex"`
	Certificate *string   `gorm:"type:text"`
	PrivateKey  *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (Gateway) TableName() string {
	return "gateways"
}

func NewGateway(commonName, ipAddress string) Gateway {
	g := Gateway{CommonName: strings.TrimSpace(commonName)}
	if ip := strings.TrimSpace(ipAddress); ip != "" {
		g.IPAddress = &ip
	}
	return g
}

func (g Gateway) WithIPAddress(ipAddress string) Gateway {
	g.IPAddress = &ipAddress
	return g
}

func (g Gateway) WithCertificate(certificate, privateKey string) Gateway {
	g.Certificate = &certificate
	g.PrivateKey = &privateKey
	return g
}

// IP returns the assigned address or "".
func (g Gateway) IP() string {
	if g.IPAddress == nil {
		return ""
	}
	return *g.IPAddress
}

func (g Gateway) CertificatePEM() string {
	if g.Certificate == nil {
		return ""
	}
	return *g.Certificate
}

func (g Gateway) PrivateKeyPEM() string {
	if g.PrivateKey == nil {
		return ""
	}
	return *g.PrivateKey
}

func (g Gateway) HasCertificate() bool {
	return g.CertificatePEM() != ""
}
