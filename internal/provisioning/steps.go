package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vpngw/internal/domain"
	"vpngw/internal/saga"
)

func (s *Service) createChain(ipRequested bool) saga.Chain[domain.Gateway] {
	return saga.NewChain(createChainName,
		saga.Pure("validate-common-name", s.validateCommonName),
		saga.Conditional(ipRequested, saga.Pure("validate-ip-address", s.validateIPAddress)),
		saga.Alternative(ipRequested,
			saga.Dirty("assign-requested-ip", s.assignRequestedIP, s.releaseIP),
			saga.Dirty("assign-next-free-ip", s.assignNextFreeIP, s.releaseIP),
		),
		saga.Dirty("request-certificate", s.requestCertificate, s.revokeCertificate),
	)
}

func (s *Service) validateCommonName(ctx context.Context, gateway domain.Gateway) error {
	if strings.TrimSpace(gateway.CommonName) == "" {
		return ErrCommonNameBlank
	}

	_, err := s.store.FindByCommonName(ctx, gateway.CommonName)
	switch {
	case err == nil:
		return fmt.Errorf("%w: gateway with common name '%s' already exists", ErrCommonNameNotUnique, gateway.CommonName)
	case errors.Is(err, domain.ErrGatewayNotFound):
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
}

func (s *Service) validateIPAddress(_ context.Context, gateway domain.Gateway) error {
	_, err := s.allocator.Check(gateway.IP())
	return err
}

func (s *Service) assignRequestedIP(ctx context.Context, gateway domain.Gateway) (domain.Gateway, error) {
	return s.assignIP(ctx, gateway, gateway.IP())
}

func (s *Service) assignNextFreeIP(ctx context.Context, gateway domain.Gateway) (domain.Gateway, error) {
	return s.assignIP(ctx, gateway, "")
}

func (s *Service) assignIP(ctx context.Context, gateway domain.Gateway, requestedIP string) (domain.Gateway, error) {
	pair, err := s.allocator.Assign(ctx, gateway.CommonName, requestedIP)
	if err != nil {
		return domain.Gateway{}, err
	}
	return gateway.WithIPAddress(pair.String()), nil
}

func (s *Service) releaseIP(ctx context.Context, gateway domain.Gateway) error {
	_, err := s.allocator.Release(ctx, gateway.CommonName)
	return err
}

func (s *Service) requestCertificate(ctx context.Context, gateway domain.Gateway) (domain.Gateway, error) {
	bundle, err := s.issuer.Issue(ctx, gateway.CommonName)
	if err != nil {
		return domain.Gateway{}, fmt.Errorf("%w: %w", ErrIssuerFailure, err)
	}
	return gateway.WithCertificate(bundle.Certificate, bundle.PrivateKey), nil
}

func (s *Service) revokeCertificate(ctx context.Context, gateway domain.Gateway) error {
	if err := s.issuer.Revoke(ctx, gateway.CommonName); err != nil {
		return fmt.Errorf("%w: %w", ErrIssuerFailure, err)
	}
	return nil
}
