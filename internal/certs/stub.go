package certs

import (
	"context"
	"fmt"
	"sync"
)

// StubIssuer returns canned bundles. Failures can be injected per operation.
type StubIssuer struct {
	Bundle    Bundle
	IssueErr  error
	RevokeErr error

	mutex   sync.Mutex
	issued  []string
	revoked []string
}

func NewStubIssuer() *StubIssuer {
	return &StubIssuer{Bundle: Bundle{Certificate: "some-certificate", PrivateKey: "some-private-key"}}
}

func (s *StubIssuer) Issue(_ context.Context, commonName string) (Bundle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.IssueErr != nil {
		return Bundle{}, fmt.Errorf("stub issue %s: %w", commonName, s.IssueErr)
	}
	s.issued = append(s.issued, commonName)
	return s.Bundle, nil
}

func (s *StubIssuer) Revoke(_ context.Context, commonName string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.RevokeErr != nil {
		return fmt.Errorf("stub revoke %s: %w", commonName, s.RevokeErr)
	}
	s.revoked = append(s.revoked, commonName)
	return nil
}

func (s *StubIssuer) Issued() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.issued...)
}

func (s *StubIssuer) Revoked() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]string(nil), s.revoked...)
}
