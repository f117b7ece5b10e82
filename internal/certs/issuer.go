package certs

import (
	"context"
	"errors"
)

var ErrCARejected = errors.New("certs: certificate authority rejected the request")

// Bundle is a PEM encoded client certificate and its private key.
type Bundle struct {
	Certificate string
	PrivateKey  string
}

// Issuer obtains and revokes client certificates for gateways.
type Issuer interface {
	Issue(ctx context.Context, commonName string) (Bundle, error)
	Revoke(ctx context.Context, commonName string) error
}
