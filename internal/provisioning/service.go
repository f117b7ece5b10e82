package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vpngw/internal/certs"
	"vpngw/internal/domain"
	"vpngw/internal/ippool"
	"vpngw/internal/saga"

	"github.com/charmbracelet/log"
)

const createChainName = "create-gateway"

// GatewayStore is the authoritative gateway record store.
type GatewayStore interface {
	FindByCommonName(ctx context.Context, commonName string) (*domain.Gateway, error)
	FindByIPAddress(ctx context.Context, ipAddress string) (*domain.Gateway, error)
	ListAll(ctx context.Context) ([]domain.Gateway, error)
	Save(ctx context.Context, gateway domain.Gateway) (*domain.Gateway, error)
	DeleteByCommonName(ctx context.Context, commonName string) error
}

// IPAllocator is satisfied by *ippool.Allocator.
type IPAllocator interface {
	Assign(ctx context.Context, commonName, requestedIP string) (ippool.Pair, error)
	Release(ctx context.Context, commonName string) (ippool.Pair, error)
	Abandon(commonName string)
	Check(requestedIP string) (ippool.Pair, error)
	Lookup(commonName string) (ippool.Pair, bool)
	ReconcileFrom(ctx context.Context, lister ippool.AssignmentLister) error
	ResyncFrom(ctx context.Context, lister ippool.AssignmentLister) error
	Status() ippool.Status
}

type ConfigRenderer interface {
	Render(gateway domain.Gateway) (string, error)
}

// ClientConfigDir is the on-disk client config directory swept for orphans.
type ClientConfigDir interface {
	List() ([]string, error)
	Remove(commonName string) error
}

type Option func(*Service)

func WithLocker(locker Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithNotifier(notifier Notifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

func WithRenderer(renderer ConfigRenderer) Option {
	return func(s *Service) {
		s.renderer = renderer
	}
}

func WithSagaObserver(observer saga.Observer) Option {
	return func(s *Service) {
		s.observers = append(s.observers, observer)
	}
}

// Service provisions and de-provisions gateways.
type Service struct {
	store     GatewayStore
	allocator IPAllocator
	issuer    certs.Issuer
	renderer  ConfigRenderer
	locker    Locker
	notifier  Notifier
	observers []saga.Observer
	executor  *saga.Executor[domain.Gateway]
}

func NewService(store GatewayStore, allocator IPAllocator, issuer certs.Issuer, opts ...Option) *Service {
	s := &Service{
		store:     store,
		allocator: allocator,
		issuer:    issuer,
		locker:    NewLocalLocker(),
	}
	for _, opt := range opts {
		opt(s)
	}

	executorOpts := make([]saga.Option, 0, len(s.observers))
	for _, observer := range s.observers {
		executorOpts = append(executorOpts, saga.WithObserver(observer))
	}
	s.executor = saga.NewExecutor[domain.Gateway](executorOpts...)
	return s
}

// CreateGateway validates, assigns an ip pair, obtains a certificate and
// persists the result. ipAddress may be empty to take the next free pair.
// Once the lock is held the run is not interrupted by ctx cancellation.
func (s *Service) CreateGateway(ctx context.Context, commonName, ipAddress string) (*domain.Gateway, error) {
	commonName = strings.TrimSpace(commonName)
	ipAddress = strings.TrimSpace(ipAddress)

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("provisioning: acquire lock: %w", err)
	}
	defer unlock()

	if err := s.allocator.ReconcileFrom(ctx, storeAssignments{s.store}); err != nil {
		return nil, fmt.Errorf("%w: reconcile ip pool: %w", ErrStoreFailure, err)
	}

	run := context.WithoutCancel(ctx)
	result, err := s.executor.Execute(run, domain.NewGateway(commonName, ipAddress), s.createChain(ipAddress != ""))
	if err != nil {
		return nil, err
	}

	saved, err := s.store.Save(run, result)
	if err != nil {
		// the pair becomes reclaimable by Resync or by DeleteGateway
		s.allocator.Abandon(result.CommonName)
		log.Error("Gateway provisioned but not persisted, manual reconciliation required",
			"fatal", true, "common_name", result.CommonName, "ip_address", result.IP(), "error", err)
		return nil, fmt.Errorf("%w: %w: %w", ErrInconsistentState, ErrStoreFailure, err)
	}

	log.Info("Gateway provisioned", "common_name", saved.CommonName, "ip_address", saved.IP())
	s.notify(run, Change{CommonName: saved.CommonName, Action: ActionCreated})
	return saved, nil
}

// DeleteGateway releases the pair, revokes the certificate and removes the
// record. Every step is attempted; failures are joined. A pair held without
// a record, left by a failed persist, is released and its certificate revoked.
func (s *Service) DeleteGateway(ctx context.Context, commonName string) error {
	commonName = strings.TrimSpace(commonName)

	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return fmt.Errorf("provisioning: acquire lock: %w", err)
	}
	defer unlock()

	run := context.WithoutCancel(ctx)
	gateway, err := s.findGateway(run, commonName)
	if errors.Is(err, ErrNotFound) {
		if _, held := s.allocator.Lookup(commonName); held {
			return s.releaseUnrecorded(run, commonName)
		}
	}
	if err != nil {
		return err
	}
	if err := s.allocator.ReconcileFrom(run, storeAssignments{s.store}); err != nil {
		log.Warn("Could not reconcile ip pool before delete", "common_name", commonName, "error", err)
	}

	var errs []error
	if _, err := s.allocator.Release(run, commonName); err != nil {
		if errors.Is(err, ippool.ErrNotFound) {
			log.Warn("Gateway held no ip pair", "common_name", commonName, "ip_address", gateway.IP())
		} else {
			errs = append(errs, fmt.Errorf("provisioning: release ip pair: %w", err))
		}
	}
	if gateway.HasCertificate() {
		if err := s.issuer.Revoke(run, commonName); err != nil {
			errs = append(errs, fmt.Errorf("%w: revoke certificate: %w", ErrIssuerFailure, err))
		}
	}
	if err := s.store.DeleteByCommonName(run, commonName); err != nil {
		errs = append(errs, fmt.Errorf("%w: delete record: %w", ErrStoreFailure, err))
	}

	if err := errors.Join(errs...); err != nil {
		log.Error("Gateway removal incomplete", "common_name", commonName, "error", err)
		return err
	}

	log.Info("Gateway removed", "common_name", commonName)
	s.notify(run, Change{CommonName: commonName, Action: ActionDeleted})
	return nil
}

func (s *Service) releaseUnrecorded(ctx context.Context, commonName string) error {
	var errs []error
	pair, err := s.allocator.Release(ctx, commonName)
	if err != nil {
		errs = append(errs, fmt.Errorf("provisioning: release ip pair: %w", err))
	}
	if err := s.issuer.Revoke(ctx, commonName); err != nil {
		errs = append(errs, fmt.Errorf("%w: revoke certificate: %w", ErrIssuerFailure, err))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("Unrecorded gateway removal incomplete", "common_name", commonName, "error", err)
		return err
	}
	log.Warn("Removed gateway that held an ip pair without a record", "common_name", commonName, "ip_address", pair.String())
	return nil
}

func (s *Service) GetGateway(ctx context.Context, commonName string) (*domain.Gateway, error) {
	return s.findGateway(ctx, strings.TrimSpace(commonName))
}

func (s *Service) ListGateways(ctx context.Context) ([]domain.Gateway, error) {
	gateways, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return gateways, nil
}

// GetGatewayConfig renders the client profile of a provisioned gateway.
func (s *Service) GetGatewayConfig(ctx context.Context, commonName string) (string, error) {
	if s.renderer == nil {
		return "", errors.New("provisioning: no config renderer configured")
	}
	gateway, err := s.findGateway(ctx, strings.TrimSpace(commonName))
	if err != nil {
		return "", err
	}
	return s.renderer.Render(*gateway)
}

func (s *Service) PoolStatus() ippool.Status {
	return s.allocator.Status()
}

// Reconcile unions the persisted assignments into the allocator.
func (s *Service) Reconcile(ctx context.Context) (ippool.Status, error) {
	if err := s.allocator.ReconcileFrom(ctx, storeAssignments{s.store}); err != nil {
		return ippool.Status{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return s.allocator.Status(), nil
}

// Resync rebuilds the allocator from the store under the provisioning lock,
// dropping pairs whose records were deleted elsewhere.
func (s *Service) Resync(ctx context.Context) (ippool.Status, error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return ippool.Status{}, fmt.Errorf("provisioning: acquire lock: %w", err)
	}
	defer unlock()

	if err := s.allocator.ResyncFrom(ctx, storeAssignments{s.store}); err != nil {
		return ippool.Status{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return s.allocator.Status(), nil
}

// SweepClientConfigs removes client config files that belong to no gateway
// record and no in-flight assignment. It returns the removed names.
func (s *Service) SweepClientConfigs(ctx context.Context, dir ClientConfigDir) ([]string, error) {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("provisioning: acquire lock: %w", err)
	}
	defer unlock()

	gateways, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	known := make(map[string]struct{}, len(gateways))
	for _, gateway := range gateways {
		known[gateway.CommonName] = struct{}{}
	}

	names, err := dir.List()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, name := range names {
		if _, ok := known[name]; ok {
			continue
		}
		if _, held := s.allocator.Lookup(name); held {
			continue
		}
		if err := dir.Remove(name); err != nil {
			log.Warn("Failed to remove orphaned client config", "common_name", name, "error", err)
			continue
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (s *Service) findGateway(ctx context.Context, commonName string) (*domain.Gateway, error) {
	gateway, err := s.store.FindByCommonName(ctx, commonName)
	if errors.Is(err, domain.ErrGatewayNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, commonName)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return gateway, nil
}

func (s *Service) notify(ctx context.Context, change Change) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, change); err != nil {
		log.Warn("Failed to publish gateway change", "common_name", change.CommonName, "action", change.Action, "error", err)
	}
}

// storeAssignments adapts a GatewayStore to the allocator's lister.
type storeAssignments struct {
	store GatewayStore
}

func (s storeAssignments) ListAssignments(ctx context.Context) ([]ippool.Assignment, error) {
	if lister, ok := s.store.(ippool.AssignmentLister); ok {
		return lister.ListAssignments(ctx)
	}
	gateways, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	assignments := make([]ippool.Assignment, 0, len(gateways))
	for _, gateway := range gateways {
		if gateway.IP() == "" {
			continue
		}
		assignments = append(assignments, ippool.Assignment{CommonName: gateway.CommonName, IPAddress: gateway.IP()})
	}
	return assignments, nil
}
