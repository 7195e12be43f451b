package config

import (
	"bytes"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

func parseYaml(out interface{}, blob []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(blob))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("can't parse yaml: %w", err)
	}
	return nil
}

// yaml.v3 does not understand time.Duration, decimal.Decimal or logrus.Level
// scalars out of the box, so structs containing such fields decode through
// shadow structs with string fields instead. node.Decode does not inherit the
// decoder's KnownFields setting, so these structs check their mapping keys
// explicitly.

func checkKnownFields(node *yaml.Node, known ...string) error {
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		found := false
		for _, k := range known {
			if key == k {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown config field %q at line %d", key, node.Content[i].Line)
		}
	}
	return nil
}

func decodeDuration(raw string, out *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("can't parse duration %q: %w", raw, err)
	}
	*out = d
	return nil
}

func decodeDecimal(raw string, out *decimal.Decimal) error {
	if raw == "" {
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("can't parse decimal %q: %w", raw, err)
	}
	*out = d
	return nil
}

func (cfg *RPCConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "host", "timeout"); err != nil {
		return err
	}
	raw := struct {
		Host    string `yaml:"host"`
		Timeout string `yaml:"timeout"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.Host = raw.Host
	return decodeDuration(raw.Timeout, &cfg.Timeout)
}

func (cfg *ChainConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "chain_id", "rpc", "block_time", "required_confirmations"); err != nil {
		return err
	}
	raw := struct {
		ChainID               string     `yaml:"chain_id"`
		RPC                   *RPCConfig `yaml:"rpc"`
		BlockTime             string     `yaml:"block_time"`
		RequiredConfirmations uint       `yaml:"required_confirmations"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.ChainID = raw.ChainID
	cfg.RPC = raw.RPC
	cfg.RequiredConfirmations = raw.RequiredConfirmations
	return decodeDuration(raw.BlockTime, &cfg.BlockTime)
}

func (cfg *OracleConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "price_url", "gas_url", "timeout", "cache_ttl", "fallback_price", "fallback_gas"); err != nil {
		return err
	}
	raw := struct {
		PriceURL      string `yaml:"price_url"`
		GasURL        string `yaml:"gas_url"`
		Timeout       string `yaml:"timeout"`
		CacheTTL      string `yaml:"cache_ttl"`
		FallbackPrice string `yaml:"fallback_price"`
		FallbackGas   string `yaml:"fallback_gas"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.PriceURL = raw.PriceURL
	cfg.GasURL = raw.GasURL
	if err := decodeDuration(raw.Timeout, &cfg.Timeout); err != nil {
		return err
	}
	if err := decodeDuration(raw.CacheTTL, &cfg.CacheTTL); err != nil {
		return err
	}
	if err := decodeDecimal(raw.FallbackPrice, &cfg.FallbackPrice); err != nil {
		return err
	}
	return decodeDecimal(raw.FallbackGas, &cfg.FallbackGas)
}

func (cfg *AdapterConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "relayer_url", "timeout"); err != nil {
		return err
	}
	raw := struct {
		RelayerURL string `yaml:"relayer_url"`
		Timeout    string `yaml:"timeout"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.RelayerURL = raw.RelayerURL
	return decodeDuration(raw.Timeout, &cfg.Timeout)
}

func (cfg *SchedulerConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node,
		"instance_id", "tick_interval", "batch_size", "lease_timeout", "max_retries",
		"pending_interval", "processing_interval", "max_backoff", "pending_timeout", "processing_timeout",
	); err != nil {
		return err
	}
	raw := struct {
		InstanceID         string `yaml:"instance_id"`
		TickInterval       string `yaml:"tick_interval"`
		BatchSize          uint   `yaml:"batch_size"`
		LeaseTimeout       string `yaml:"lease_timeout"`
		MaxRetries         uint   `yaml:"max_retries"`
		PendingInterval    string `yaml:"pending_interval"`
		ProcessingInterval string `yaml:"processing_interval"`
		MaxBackoff         string `yaml:"max_backoff"`
		PendingTimeout     string `yaml:"pending_timeout"`
		ProcessingTimeout  string `yaml:"processing_timeout"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.InstanceID = raw.InstanceID
	cfg.BatchSize = raw.BatchSize
	cfg.MaxRetries = raw.MaxRetries
	for _, field := range []struct {
		raw string
		out *time.Duration
	}{
		{raw.TickInterval, &cfg.TickInterval},
		{raw.LeaseTimeout, &cfg.LeaseTimeout},
		{raw.PendingInterval, &cfg.PendingInterval},
		{raw.ProcessingInterval, &cfg.ProcessingInterval},
		{raw.MaxBackoff, &cfg.MaxBackoff},
		{raw.PendingTimeout, &cfg.PendingTimeout},
		{raw.ProcessingTimeout, &cfg.ProcessingTimeout},
	} {
		if err := decodeDuration(field.raw, field.out); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *RouteConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node,
		"source_chain", "destination_chain", "source_token", "destination_token", "estimated_duration_minutes",
	); err != nil {
		return err
	}
	type plain RouteConfig
	return node.Decode((*plain)(cfg))
}

func (cfg *DBConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "host", "port", "database", "user", "password", "migrations_dir"); err != nil {
		return err
	}
	type plain DBConfig
	return node.Decode((*plain)(cfg))
}

func (cfg *PresenterConfig) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node, "host"); err != nil {
		return err
	}
	type plain PresenterConfig
	return node.Decode((*plain)(cfg))
}

func (cfg *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := checkKnownFields(node,
		"chains", "routes", "protocol_fee_rate", "oracle", "adapter", "scheduler",
		"postgres", "presenter", "metrics_host", "log_level",
	); err != nil {
		return err
	}
	raw := struct {
		Chains          map[string]*ChainConfig `yaml:"chains"`
		Routes          []*RouteConfig          `yaml:"routes"`
		ProtocolFeeRate string                  `yaml:"protocol_fee_rate"`
		Oracle          *OracleConfig           `yaml:"oracle"`
		Adapter         *AdapterConfig          `yaml:"adapter"`
		Scheduler       *SchedulerConfig        `yaml:"scheduler"`
		DBConfig        *DBConfig               `yaml:"postgres"`
		Presenter       *PresenterConfig        `yaml:"presenter"`
		MetricsHost     string                  `yaml:"metrics_host"`
		LogLevel        string                  `yaml:"log_level"`
	}{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	cfg.Chains = raw.Chains
	cfg.Routes = raw.Routes
	cfg.Oracle = raw.Oracle
	cfg.Adapter = raw.Adapter
	cfg.Scheduler = raw.Scheduler
	cfg.DBConfig = raw.DBConfig
	cfg.Presenter = raw.Presenter
	cfg.MetricsHost = raw.MetricsHost
	if err := decodeDecimal(raw.ProtocolFeeRate, &cfg.ProtocolFeeRate); err != nil {
		return err
	}
	cfg.LogLevel = logrus.InfoLevel
	if raw.LogLevel != "" {
		level, err := logrus.ParseLevel(raw.LogLevel)
		if err != nil {
			return fmt.Errorf("can't parse log level %q: %w", raw.LogLevel, err)
		}
		cfg.LogLevel = level
	}
	return nil
}
