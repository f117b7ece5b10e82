package certs

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

//go:embed client-csr.json
var defaultCSRTemplate []byte

const (
	defaultIssuerTimeout = 10 * time.Second
	maxResponseBytes     = 1 << 20
	revocationReason     = "cessationOfOperation"
)

type HTTPIssuerOption func(*HTTPIssuer)

// WithRevokeURL enables revocation. Without it Revoke only logs.
func WithRevokeURL(url string) HTTPIssuerOption {
	return func(i *HTTPIssuer) {
		i.revokeURL = strings.TrimSpace(url)
	}
}

func WithTimeout(timeout time.Duration) HTTPIssuerOption {
	return func(i *HTTPIssuer) {
		if timeout > 0 {
			i.timeout = timeout
		}
	}
}

func WithHTTPClient(client *http.Client) HTTPIssuerOption {
	return func(i *HTTPIssuer) {
		if client != nil {
			i.client = client
		}
	}
}

// WithCSRTemplate replaces the embedded CSR request document.
func WithCSRTemplate(template []byte) HTTPIssuerOption {
	return func(i *HTTPIssuer) {
		if len(template) > 0 {
			i.template = template
		}
	}
}

// HTTPIssuer talks to a cfssl style CA over HTTP.
type HTTPIssuer struct {
	newCertURL string
	revokeURL  string
	timeout    time.Duration
	template   []byte
	client     *http.Client
}

func NewHTTPIssuer(newCertURL string, opts ...HTTPIssuerOption) (*HTTPIssuer, error) {
	newCertURL = strings.TrimSpace(newCertURL)
	if newCertURL == "" {
		return nil, fmt.Errorf("certs: new certificate endpoint is not configured")
	}

	issuer := &HTTPIssuer{
		newCertURL: newCertURL,
		timeout:    defaultIssuerTimeout,
		template:   defaultCSRTemplate,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	if issuer.client == nil {
		issuer.client = &http.Client{Timeout: issuer.timeout}
	}

	if _, err := issuer.requestBody("probe"); err != nil {
		return nil, err
	}
	return issuer, nil
}

type caResponse struct {
	Success *bool `json:"success"`
	Result  struct {
		Certificate string `json:"certificate"`
		PrivateKey  string `json:"private_key"`
	} `json:"result"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (i *HTTPIssuer) Issue(ctx context.Context, commonName string) (Bundle, error) {
	body, err := i.requestBody(commonName)
	if err != nil {
		return Bundle{}, err
	}

	raw, err := i.post(ctx, i.newCertURL, body)
	if err != nil {
		return Bundle{}, fmt.Errorf("certs: request certificate for %s: %w", commonName, err)
	}

	var resp caResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return Bundle{}, fmt.Errorf("certs: decode CA response for %s: %w", commonName, err)
	}
	if (resp.Success != nil && !*resp.Success) || len(resp.Errors) > 0 {
		msg := "unsuccessful response"
		if len(resp.Errors) > 0 {
			msg = resp.Errors[0].Message
		}
		return Bundle{}, fmt.Errorf("%w: %s: %s", ErrCARejected, commonName, msg)
	}
	if resp.Result.Certificate == "" || resp.Result.PrivateKey == "" {
		return Bundle{}, fmt.Errorf("%w: %s: response is missing the certificate or key", ErrCARejected, commonName)
	}

	log.Info("Issued client certificate", "common_name", commonName)
	return Bundle{Certificate: resp.Result.Certificate, PrivateKey: resp.Result.PrivateKey}, nil
}

func (i *HTTPIssuer) Revoke(ctx context.Context, commonName string) error {
	if i.revokeURL == "" {
		log.Warn("Certificate revocation endpoint not configured, skipping revoke", "common_name", commonName)
		return nil
	}

	body, err := json.Marshal(map[string]string{
		"common_name": commonName,
		"reason":      revocationReason,
	})
	if err != nil {
		return err
	}

	if _, err := i.post(ctx, i.revokeURL, body); err != nil {
		return fmt.Errorf("certs: revoke certificate for %s: %w", commonName, err)
	}
	log.Info("Revoked client certificate", "common_name", commonName)
	return nil
}

func (i *HTTPIssuer) requestBody(commonName string) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(i.template, &doc); err != nil {
		return nil, fmt.Errorf("certs: parse CSR template: %w", err)
	}
	request, ok := doc["request"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("certs: CSR template has no request object")
	}
	request["CN"] = commonName
	request["hosts"] = []string{commonName}
	return json.Marshal(doc)
}

func (i *HTTPIssuer) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrCARejected, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return raw, nil
}
