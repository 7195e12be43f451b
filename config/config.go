package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type RPCConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
}

type ChainConfig struct {
	ChainID               string        `yaml:"chain_id"`
	RPC                   *RPCConfig    `yaml:"rpc"`
	BlockTime             time.Duration `yaml:"block_time"`
	RequiredConfirmations uint          `yaml:"required_confirmations"`
}

type RouteConfig struct {
	SourceChain       string `yaml:"source_chain"`
	DestinationChain  string `yaml:"destination_chain"`
	SourceToken       string `yaml:"source_token"`
	DestinationToken  string `yaml:"destination_token"`
	EstimatedDuration uint   `yaml:"estimated_duration_minutes"`
}

type OracleConfig struct {
	PriceURL      string          `yaml:"price_url"`
	GasURL        string          `yaml:"gas_url"`
	Timeout       time.Duration   `yaml:"timeout"`
	CacheTTL      time.Duration   `yaml:"cache_ttl"`
	FallbackPrice decimal.Decimal `yaml:"fallback_price"`
	FallbackGas   decimal.Decimal `yaml:"fallback_gas"`
}

type AdapterConfig struct {
	RelayerURL string        `yaml:"relayer_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type SchedulerConfig struct {
	InstanceID         string        `yaml:"instance_id"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	BatchSize          uint          `yaml:"batch_size"`
	LeaseTimeout       time.Duration `yaml:"lease_timeout"`
	MaxRetries         uint          `yaml:"max_retries"`
	PendingInterval    time.Duration `yaml:"pending_interval"`
	ProcessingInterval time.Duration `yaml:"processing_interval"`
	MaxBackoff         time.Duration `yaml:"max_backoff"`
	PendingTimeout     time.Duration `yaml:"pending_timeout"`
	ProcessingTimeout  time.Duration `yaml:"processing_timeout"`
}

type DBConfig struct {
	Host          string `yaml:"host"`
	Port          uint   `yaml:"port"`
	DB            string `yaml:"database"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type PresenterConfig struct {
	Host string `yaml:"host"`
}

type Config struct {
	Chains          map[string]*ChainConfig `yaml:"chains"`
	Routes          []*RouteConfig          `yaml:"routes"`
	ProtocolFeeRate decimal.Decimal         `yaml:"protocol_fee_rate"`
	Oracle          *OracleConfig           `yaml:"oracle"`
	Adapter         *AdapterConfig          `yaml:"adapter"`
	Scheduler       *SchedulerConfig        `yaml:"scheduler"`
	DBConfig        *DBConfig               `yaml:"postgres"`
	Presenter       *PresenterConfig        `yaml:"presenter"`
	MetricsHost     string                  `yaml:"metrics_host"`
	LogLevel        logrus.Level            `yaml:"log_level"`
}

func (cfg *Config) init() error {
	if len(cfg.Routes) == 0 {
		return fmt.Errorf("no bridge routes are configured")
	}
	for i, route := range cfg.Routes {
		if _, ok := cfg.Chains[route.SourceChain]; !ok {
			return fmt.Errorf("route #%d references unknown chain %q", i, route.SourceChain)
		}
		if _, ok := cfg.Chains[route.DestinationChain]; !ok {
			return fmt.Errorf("route #%d references unknown chain %q", i, route.DestinationChain)
		}
		if route.EstimatedDuration == 0 {
			route.EstimatedDuration = 30
		}
	}
	if cfg.ProtocolFeeRate.IsNegative() || cfg.ProtocolFeeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("protocol fee rate %s is outside of [0, 1)", cfg.ProtocolFeeRate)
	}
	if cfg.Oracle == nil {
		return fmt.Errorf("oracle config is missing")
	}
	cfg.Oracle.init()
	// The fallback price is the divisor of last resort in the fee math, it
	// must never be zero.
	if !cfg.Oracle.FallbackPrice.IsPositive() {
		return fmt.Errorf("oracle fallback price %s is not positive", cfg.Oracle.FallbackPrice)
	}
	if cfg.Oracle.FallbackGas.IsNegative() {
		return fmt.Errorf("oracle fallback gas cost %s is negative", cfg.Oracle.FallbackGas)
	}
	if cfg.Adapter == nil || cfg.Adapter.RelayerURL == "" {
		return fmt.Errorf("adapter relayer url is missing")
	}
	if cfg.Adapter.Timeout == 0 {
		cfg.Adapter.Timeout = 10 * time.Second
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = &SchedulerConfig{}
	}
	if err := cfg.Scheduler.init(); err != nil {
		return err
	}
	if cfg.DBConfig == nil {
		return fmt.Errorf("postgres config is missing")
	}
	if cfg.DBConfig.MigrationsDir == "" {
		cfg.DBConfig.MigrationsDir = "db/migrations"
	}
	return nil
}

func (cfg *OracleConfig) init() {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
}

func (cfg *SchedulerConfig) init() error {
	if cfg.InstanceID == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("can't get hostname for scheduler instance id: %w", err)
		}
		cfg.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.LeaseTimeout == 0 {
		cfg.LeaseTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.PendingInterval == 0 {
		cfg.PendingInterval = 30 * time.Second
	}
	if cfg.ProcessingInterval == 0 {
		cfg.ProcessingInterval = 15 * time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.PendingTimeout == 0 {
		cfg.PendingTimeout = time.Hour
	}
	if cfg.ProcessingTimeout == 0 {
		cfg.ProcessingTimeout = 2 * time.Hour
	}
	return nil
}

func ReadConfig(blob []byte) (*Config, error) {
	cfg := new(Config)
	blob = []byte(os.ExpandEnv(string(blob)))
	if err := parseYaml(cfg, blob); err != nil {
		return nil, fmt.Errorf("can't read config: %w", err)
	}
	if err := cfg.init(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func ReadConfigFromFile(path string) (*Config, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("can't read config file %q: %w", path, err)
	}
	return ReadConfig(blob)
}
