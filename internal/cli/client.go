package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vpngw/internal/api/dto"
	"vpngw/internal/ippool"
)

// APIError is a non-2xx response from the vpngw API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client is a thin HTTP client for the vpngw API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateGateway(ctx context.Context, commonName, ipAddress string) (dto.Gateway, error) {
	var gateway dto.Gateway
	err := c.do(ctx, http.MethodPost, "/gateway", dto.GatewayCreateRequest{CommonName: commonName, IPAddress: ipAddress}, &gateway)
	return gateway, err
}

func (c *Client) GetGateway(ctx context.Context, commonName string) (dto.Gateway, error) {
	var gateway dto.Gateway
	err := c.do(ctx, http.MethodGet, "/gateway/"+url.PathEscape(commonName), nil, &gateway)
	return gateway, err
}

func (c *Client) ListGateways(ctx context.Context) ([]dto.GatewaySummary, error) {
	var gateways []dto.GatewaySummary
	err := c.do(ctx, http.MethodGet, "/gateways", nil, &gateways)
	return gateways, err
}

func (c *Client) DeleteGateway(ctx context.Context, commonName string) error {
	return c.do(ctx, http.MethodDelete, "/gateway/"+url.PathEscape(commonName), nil, nil)
}

func (c *Client) GatewayConfig(ctx context.Context, commonName string) ([]byte, error) {
	var profile []byte
	err := c.do(ctx, http.MethodGet, "/gateway-config/"+url.PathEscape(commonName), nil, &profile)
	return profile, err
}

func (c *Client) PoolStatus(ctx context.Context) (ippool.Status, error) {
	var status ippool.Status
	err := c.do(ctx, http.MethodGet, "/pool", nil, &status)
	return status, err
}

func (c *Client) Reconcile(ctx context.Context) (ippool.Status, error) {
	var status ippool.Status
	err := c.do(ctx, http.MethodPost, "/pool/reconcile", nil, &status)
	return status, err
}

// do sends body as JSON and decodes the response into out. A *[]byte out
// receives the raw body.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr dto.Error
		_ = json.Unmarshal(raw, &apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	switch target := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*target = raw
		return nil
	default:
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}
