package gatewayconfig

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"vpngw/internal/certs"
	"vpngw/internal/domain"
)

//go:embed base.conf
var baseTemplate string

var ErrIncompleteGateway = errors.New("gatewayconfig: gateway has no certificate or key")

// Producer renders OpenVPN client profiles for provisioned gateways.
type Producer struct {
	template        string
	templatePath    string
	externalAddress string
	externalPort    string
	material        certs.MaterialProvider
}

type Option func(*Producer)

// WithTemplateFile replaces the embedded base template. An empty path keeps
// the default.
func WithTemplateFile(path string) Option {
	return func(p *Producer) {
		p.templatePath = strings.TrimSpace(path)
	}
}

func WithTemplate(template string) Option {
	return func(p *Producer) {
		p.template = template
	}
}

func NewProducer(externalAddress, externalPort string, material certs.MaterialProvider, opts ...Option) (*Producer, error) {
	if material == nil {
		return nil, errors.New("gatewayconfig: key material provider is required")
	}
	p := &Producer{
		template:        baseTemplate,
		externalAddress: externalAddress,
		externalPort:    externalPort,
		material:        material,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.templatePath != "" {
		raw, err := os.ReadFile(p.templatePath)
		if err != nil {
			return nil, fmt.Errorf("gatewayconfig: read template: %w", err)
		}
		p.template = string(raw)
	}
	return p, nil
}

// Render builds the client profile: the base template, the remote line and
// the inline key material blocks.
func (p *Producer) Render(gateway domain.Gateway) (string, error) {
	if !gateway.HasCertificate() || gateway.PrivateKeyPEM() == "" {
		return "", fmt.Errorf("%w: %s", ErrIncompleteGateway, gateway.CommonName)
	}

	ca, err := p.material.CACertificate()
	if err != nil {
		return "", fmt.Errorf("gatewayconfig: %w", err)
	}
	tlsCrypt, err := p.material.TLSCryptKey()
	if err != nil {
		return "", fmt.Errorf("gatewayconfig: %w", err)
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(p.template, "\n"))
	fmt.Fprintf(&b, "\nremote %s %s\n", p.externalAddress, p.externalPort)
	writeBlock(&b, "ca", ca)
	writeBlock(&b, "cert", gateway.CertificatePEM())
	writeBlock(&b, "key", gateway.PrivateKeyPEM())
	writeBlock(&b, "tls-crypt", tlsCrypt)
	return b.String(), nil
}

func writeBlock(b *strings.Builder, tag, payload string) {
	if !strings.HasSuffix(payload, "\n") {
		payload += "\n"
	}
	fmt.Fprintf(b, "<%s>\n%s</%s>\n", tag, payload, tag)
}
