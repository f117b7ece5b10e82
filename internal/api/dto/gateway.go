package dto

import "time"

type GatewayCreateRequest struct {
	CommonName string `json:"common_name"`
	IPAddress  string `json:"ip_address,omitempty"`
}

type Gateway struct {
	CommonName  string    `json:"common_name" yaml:"common_name"`
	IPAddress   string    `json:"ip_address" yaml:"ip_address"`
	Certificate string    `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	PrivateKey  string    `json:"private_key,omitempty" yaml:"private_key,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at"`
}

// GatewaySummary is the list view; key material is never included.
type GatewaySummary struct {
	CommonName     string    `json:"common_name" yaml:"common_name"`
	IPAddress      string    `json:"ip_address" yaml:"ip_address"`
	HasCertificate bool      `json:"has_certificate" yaml:"has_certificate"`
	CreatedAt      time.Time `json:"created_at" yaml:"created_at"`
}

type Error struct {
	Error string `json:"error"`
}
