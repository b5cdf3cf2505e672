package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	DiscoveryIndexer = "indexer"
	DiscoveryFactory = "factory"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL         string
	Factory        string
	Router         string
	TargetToken    string
	WrappedToken   string
	PriorityTokens []string
	Wallet         string
	FreshnessHours float64
	BatchSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	BatchTimeout   time.Duration
	CallTimeout    time.Duration
	Store          string
	PGDSN          string
	GraphCache     string
	RedisAddr      string
	GraphTTL       time.Duration
	TVLMode        string
	PrecheckPairs  bool
	Discovery      string
	Listen         string
	SyncInterval   time.Duration
	RunLog         string
	FromBlock      uint64
	ToBlock        uint64
	BlockBatch     uint64
	Checkpoint     string
	LogLevel       string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LPSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("freshness-hours", 1.0)
	v.SetDefault("batch-size", 10)
	v.SetDefault("max-retries", 3)
	v.SetDefault("retry-delay", 2*time.Second)
	v.SetDefault("batch-timeout", 2*time.Minute)
	v.SetDefault("call-timeout", 10*time.Second)
	v.SetDefault("store", StorePostgres)
	v.SetDefault("graph-ttl", time.Hour)
	v.SetDefault("tvl-mode", "sum")
	v.SetDefault("precheck-pairs", true)
	v.SetDefault("discovery", DiscoveryIndexer)
	v.SetDefault("listen", ":8080")
	v.SetDefault("block-batch", 2000)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:         v.GetString("rpc"),
		Factory:        v.GetString("factory"),
		Router:         v.GetString("router"),
		TargetToken:    v.GetString("target-token"),
		WrappedToken:   v.GetString("wrapped-token"),
		PriorityTokens: getStringSlice(v, "priority-tokens"),
		Wallet:         v.GetString("wallet"),
		FreshnessHours: v.GetFloat64("freshness-hours"),
		BatchSize:      v.GetInt("batch-size"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryDelay:     v.GetDuration("retry-delay"),
		BatchTimeout:   v.GetDuration("batch-timeout"),
		CallTimeout:    v.GetDuration("call-timeout"),
		Store:          strings.ToLower(v.GetString("store")),
		PGDSN:          v.GetString("pg-dsn"),
		GraphCache:     v.GetString("graph-cache"),
		RedisAddr:      v.GetString("redis-addr"),
		GraphTTL:       v.GetDuration("graph-ttl"),
		TVLMode:        v.GetString("tvl-mode"),
		PrecheckPairs:  v.GetBool("precheck-pairs"),
		Discovery:      strings.ToLower(v.GetString("discovery")),
		Listen:         v.GetString("listen"),
		SyncInterval:   v.GetDuration("sync-interval"),
		RunLog:         v.GetString("run-log"),
		FromBlock:      v.GetUint64("from-block"),
		ToBlock:        v.GetUint64("to-block"),
		BlockBatch:     v.GetUint64("block-batch"),
		Checkpoint:     v.GetString("checkpoint"),
		LogLevel:       v.GetString("log-level"),
	}

	return cfg, nil
}

// Freshness is the age below which a stored pair is not resynced.
func (c Config) Freshness() time.Duration {
	if c.FreshnessHours <= 0 {
		return 0
	}
	return time.Duration(c.FreshnessHours * float64(time.Hour))
}

// Validate checks settings shared by every command.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than zero")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must not be negative")
	}
	switch c.Store {
	case StorePostgres:
		if c.PGDSN == "" {
			return fmt.Errorf("pg-dsn is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Discovery {
	case DiscoveryIndexer, DiscoveryFactory:
	default:
		return fmt.Errorf("unknown discovery %q", c.Discovery)
	}
	return nil
}

// Contracts are the parsed chain addresses.
type Contracts struct {
	Factory common.Address
	Router  common.Address
	Target  common.Address
	// Priority lists the intermediate hop tokens in order; the wrapped
	// native token comes first when configured.
	Priority []common.Address
}

// Contracts parses and checks the addresses needed to talk to the chain.
func (c Config) Contracts() (Contracts, error) {
	if c.RPCURL == "" {
		return Contracts{}, fmt.Errorf("rpc url is required")
	}
	var (
		out Contracts
		err error
	)
	if out.Factory, err = ParseAddress("factory", c.Factory); err != nil {
		return Contracts{}, err
	}
	if out.Router, err = ParseAddress("router", c.Router); err != nil {
		return Contracts{}, err
	}
	if out.Target, err = ParseAddress("target-token", c.TargetToken); err != nil {
		return Contracts{}, err
	}

	hops := c.PriorityTokens
	if strings.TrimSpace(c.WrappedToken) != "" {
		hops = append([]string{c.WrappedToken}, hops...)
	}
	priority, err := ParseAddresses(hops)
	if err != nil {
		return Contracts{}, err
	}
	seen := make(map[common.Address]struct{}, len(priority))
	for _, p := range priority {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out.Priority = append(out.Priority, p)
	}
	return out, nil
}

// ParseAddress parses one required, non-zero address.
func ParseAddress(name, input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return common.Address{}, fmt.Errorf("%s address is required", name)
	}
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, input)
	}
	addr := common.HexToAddress(input)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address must not be zero", name)
	}
	return addr, nil
}

// ParseAddresses converts string addresses into common.Address.
func ParseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
