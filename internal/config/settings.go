package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"vpngw/internal/ippool"
	"vpngw/internal/support"

	"github.com/charmbracelet/log"
)

const (
	ProfileLocal  = "local"
	ProfileRemote = "remote"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Profile string `json:"profile"`

	Network struct {
		CIDR    string `json:"cidr,omitempty"`
		Address string `json:"address"`
		Mask    string `json:"mask"`
	} `json:"network"`

	// CCDPath is the client config directory. Empty keeps allocations in
	// memory only.
	CCDPath string `json:"ccd_path"`

	CA struct {
		NewCertURL string        `json:"new_cert_url"`
		RevokeURL  string        `json:"revoke_url"`
		Timeout    time.Duration `json:"timeout"`
		CertPath   string        `json:"cert_path"`
		KeyPath    string        `json:"key_path"`
		TAKeyPath  string        `json:"ta_key_path"`
	} `json:"ca"`

	External struct {
		Address string `json:"address"`
		Port    string `json:"port"`
	} `json:"external"`

	TemplatePath string `json:"template_path,omitempty"`

	Database struct {
		Driver     string `json:"driver"`
		SQLitePath string `json:"sqlite_path"`
	} `json:"database"`

	ReconcileInterval time.Duration `json:"reconcile_interval"`
	BackendPort       int           `json:"backend_port"`
	MaxConnections    int           `json:"max_connections"`
}

var (
	configValue atomic.Value

	InProductionMode bool
)

func init() {
	configValue.Store(Config{})
}

// Load reads the configuration from the environment, validates it and makes
// it the current configuration.
func Load() (Config, error) {
	var cfg Config

	cfg.Profile = strings.ToLower(support.GetEnv("VPNGW_PROFILE", ProfileLocal))

	cfg.Network.CIDR = support.GetEnv("VPNGW_NETWORK_CIDR", "")
	cfg.Network.Address = support.GetEnv("VPNGW_NETWORK_ADDRESS", "10.8.0.0")
	cfg.Network.Mask = support.GetEnv("VPNGW_NETWORK_MASK", "255.255.255.0")

	cfg.CCDPath = support.GetEnv("VPNGW_CCD_PATH", "")

	cfg.CA.NewCertURL = support.GetEnv("VPNGW_CA_NEW_CERT_URL", "")
	cfg.CA.RevokeURL = support.GetEnv("VPNGW_CA_REVOKE_URL", "")
	cfg.CA.Timeout = support.GetEnvDuration("VPNGW_CA_TIMEOUT", 10*time.Second)
	cfg.CA.CertPath = support.GetEnv("VPNGW_CA_CERT_PATH", "")
	cfg.CA.KeyPath = support.GetEnv("VPNGW_CA_KEY_PATH", "")
	cfg.CA.TAKeyPath = support.GetEnv("VPNGW_TA_KEY_PATH", "")

	cfg.External.Address = support.GetEnv("VPNGW_EXTERNAL_ADDRESS", "localhost")
	cfg.External.Port = support.GetEnv("VPNGW_EXTERNAL_PORT", "1194")

	cfg.TemplatePath = support.GetEnv("VPNGW_CONFIG_TEMPLATE", "")

	defaultDriver := DriverPostgres
	if cfg.Profile == ProfileLocal {
		defaultDriver = DriverSQLite
	}
	cfg.Database.Driver = strings.ToLower(support.GetEnv("DB_DRIVER", defaultDriver))
	cfg.Database.SQLitePath = support.GetEnv("DB_SQLITE_PATH", filepath.Join("data", "vpngw.db"))

	cfg.ReconcileInterval = support.GetEnvDuration("VPNGW_RECONCILE_INTERVAL", 5*time.Minute)
	cfg.BackendPort = support.GetEnvInt("BACKEND_PORT", 8082)
	cfg.MaxConnections = support.GetEnvInt("VPNGW_MAX_CONNECTIONS", 256)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	Set(cfg)
	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Profile {
	case ProfileLocal:
	case ProfileRemote:
		if c.CA.NewCertURL == "" {
			errs = append(errs, errors.New("VPNGW_CA_NEW_CERT_URL is required for the remote profile"))
		}
		if c.CA.CertPath == "" {
			errs = append(errs, errors.New("VPNGW_CA_CERT_PATH is required for the remote profile"))
		}
		if c.CA.TAKeyPath == "" {
			errs = append(errs, errors.New("VPNGW_TA_KEY_PATH is required for the remote profile"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown profile %q", c.Profile))
	}

	if _, err := c.Pool(); err != nil {
		errs = append(errs, err)
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}

	if c.CA.Timeout <= 0 {
		errs = append(errs, errors.New("VPNGW_CA_TIMEOUT must be positive"))
	}
	if c.ReconcileInterval <= 0 {
		errs = append(errs, errors.New("VPNGW_RECONCILE_INTERVAL must be positive"))
	}
	if c.BackendPort <= 0 || c.BackendPort > 65535 {
		errs = append(errs, fmt.Errorf("BACKEND_PORT %d out of range", c.BackendPort))
	}
	if c.MaxConnections <= 0 {
		errs = append(errs, errors.New("VPNGW_MAX_CONNECTIONS must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// Pool derives the ip pair pool. The CIDR form wins over address and mask.
func (c Config) Pool() (*ippool.Pool, error) {
	if c.Network.CIDR != "" {
		return ippool.DerivePairs(c.Network.CIDR)
	}
	return ippool.DerivePairsFromMask(c.Network.Address, c.Network.Mask)
}

// ClientConfigDir returns the configured client config directory. The local
// profile falls back to a fresh temporary directory.
func (c Config) ClientConfigDir() (string, error) {
	if c.CCDPath != "" || c.Profile != ProfileLocal {
		return c.CCDPath, nil
	}
	dir, err := os.MkdirTemp("", "vpngw-ccd-")
	if err != nil {
		return "", fmt.Errorf("config: create temporary client config dir: %w", err)
	}
	log.Info("Using temporary client config directory", "path", dir)
	return dir, nil
}

func Get() Config {
	return configValue.Load().(Config)
}

func Set(cfg Config) {
	configValue.Store(cfg)
	log.Debug("Configuration applied", "profile", cfg.Profile)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
