package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"vpngw/internal/app/server"
	"vpngw/internal/certs"
	"vpngw/internal/config"
	"vpngw/internal/database"
	"vpngw/internal/gatewayconfig"
	"vpngw/internal/ippool"
	"vpngw/internal/jobs/maintenance"
	"vpngw/internal/metrics"
	"vpngw/internal/provisioning"
	"vpngw/internal/support"
)

const (
	provisioningLockKey = "vpngw:lock:provisioning"
	provisioningLockTTL = 30 * time.Second
	localCAName         = "vpngw local CA"
)

// components is the wired service graph.
type components struct {
	service *provisioning.Service
	sink    *ippool.FileSink
	redis   *redis.Client
	origin  string
}

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	backendPortFlag := flag.Int("backend-port", 0, "Port for API server (overrides BACKEND_PORT)")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	log.SetLevel(resolveLogLevel(os.Getenv("LOG_LEVEL"), *productionFlag))

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *backendPortFlag > 0 {
		cfg.BackendPort = *backendPortFlag
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	go maintenance.StartPoolResyncRoutine(ctx, c.service, cfg.ReconcileInterval)
	if c.sink != nil {
		go maintenance.StartClientConfigCleanupRoutine(ctx, c.service, c.sink, cfg.ReconcileInterval)
	}
	if c.redis != nil {
		go provisioning.ListenForChanges(ctx, c.redis, c.origin, c.service.ApplyChange)
	}

	return server.OpenRoutes(ctx, cfg.BackendPort, cfg.MaxConnections, c.service)
}

// build wires storage, allocator, issuer and renderer for cfg and seeds the
// allocator from the store.
func build(ctx context.Context, cfg config.Config) (*components, error) {
	if cfg.Database.Driver == config.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}
	dialector, err := database.DialectorFor(cfg.Database.Driver, cfg.Database.SQLitePath)
	if err != nil {
		return nil, err
	}
	db, err := database.SetupDB(database.WithDialector(dialector), database.WithLogger(database.WarnLogger()))
	if err != nil {
		return nil, err
	}
	store := database.NewGatewayRepository(db, 0)

	pool, err := cfg.Pool()
	if err != nil {
		return nil, err
	}
	ccdDir, err := cfg.ClientConfigDir()
	if err != nil {
		return nil, err
	}

	c := &components{origin: uuid.NewString()}
	allocatorOpts := []ippool.Option{ippool.WithObserver(metrics.ObservePool)}
	if ccdDir != "" {
		c.sink, err = ippool.NewFileSink(ccdDir)
		if err != nil {
			return nil, err
		}
		allocatorOpts = append(allocatorOpts, ippool.WithCCDSink(c.sink))
	}
	allocator := ippool.NewAllocator(pool, allocatorOpts...)

	issuer, material, err := buildIssuer(cfg)
	if err != nil {
		return nil, err
	}

	var producerOpts []gatewayconfig.Option
	if cfg.TemplatePath != "" {
		producerOpts = append(producerOpts, gatewayconfig.WithTemplateFile(cfg.TemplatePath))
	}
	producer, err := gatewayconfig.NewProducer(cfg.External.Address, cfg.External.Port, material, producerOpts...)
	if err != nil {
		return nil, err
	}

	serviceOpts := []provisioning.Option{
		provisioning.WithRenderer(producer),
		provisioning.WithSagaObserver(metrics.ObserveSaga),
	}
	if support.RedisConfigured() {
		c.redis, err = support.GetRedisClient()
		if err != nil {
			return nil, fmt.Errorf("failed to get redis client: %w", err)
		}
		serviceOpts = append(serviceOpts,
			provisioning.WithLocker(support.NewRedisLock(c.redis, provisioningLockKey, provisioningLockTTL)),
			provisioning.WithNotifier(provisioning.NewRedisNotifier(c.redis, c.origin)),
		)
		log.Info("Redis coordination enabled", "origin", c.origin)
	}

	c.service = provisioning.NewService(store, allocator, issuer, serviceOpts...)

	status, err := c.service.Reconcile(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial ip pool reconcile: %w", err)
	}
	log.Info("Gateway provisioning ready",
		"profile", cfg.Profile,
		"network", status.Network,
		"pairs", status.Size,
		"allocated", status.Allocated,
		"ccd", ccdDir,
	)
	return c, nil
}

func buildIssuer(cfg config.Config) (certs.Issuer, certs.MaterialProvider, error) {
	switch cfg.Profile {
	case config.ProfileRemote:
		issuer, err := certs.NewHTTPIssuer(cfg.CA.NewCertURL,
			certs.WithRevokeURL(cfg.CA.RevokeURL),
			certs.WithTimeout(cfg.CA.Timeout),
		)
		if err != nil {
			return nil, nil, err
		}
		return issuer, certs.FileMaterial{CACertPath: cfg.CA.CertPath, TAKeyPath: cfg.CA.TAKeyPath}, nil

	case config.ProfileLocal:
		var (
			issuer *certs.LocalIssuer
			err    error
		)
		if cfg.CA.CertPath != "" && cfg.CA.KeyPath != "" {
			issuer, err = certs.LoadLocalIssuer(cfg.CA.CertPath, cfg.CA.KeyPath)
		} else {
			issuer, err = certs.NewLocalIssuer(localCAName)
		}
		if err != nil {
			return nil, nil, err
		}

		if cfg.CA.CertPath != "" && cfg.CA.TAKeyPath != "" {
			return issuer, certs.FileMaterial{CACertPath: cfg.CA.CertPath, TAKeyPath: cfg.CA.TAKeyPath}, nil
		}
		key, err := certs.GenerateStaticKey()
		if err != nil {
			return nil, nil, err
		}
		return issuer, certs.StaticMaterial{CA: issuer.CACertificate(), Key: key}, nil

	default:
		return nil, nil, errors.New("unknown profile " + cfg.Profile)
	}
}

func resolveLogLevel(raw string, production bool) log.Level {
	if raw = strings.TrimSpace(raw); raw != "" {
		level, err := log.ParseLevel(strings.ToLower(raw))
		if err == nil {
			return level
		}
		log.Warn("invalid LOG_LEVEL, using default", "value", raw)
	}
	if production {
		return log.InfoLevel
	}
	return log.DebugLevel
}
