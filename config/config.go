// Package config loads the node configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cmwaters/mnpay/payments"
)

const envPrefix = "MNPAY_"

type Config struct {
	ListenAddr string   // multiaddr the libp2p host listens on
	Bootstrap  []string // multiaddrs of peers dialled on start
	Network    string   // signing and topic namespace

	RegistryFile string // JSON list of masternodes

	// Outpoint and Key are both set when the node runs as a masternode.
	Outpoint *payments.Outpoint
	Key      string // hex secp256k1 private key

	ChainSeed     string        // genesis seed of the devnet chain
	StartHeight   int64         // height the devnet chain starts at
	BlockInterval time.Duration // time between devnet blocks
	SyncTimeout   time.Duration // time without new votes before the winners list is considered synced

	SignaturesTotal     int
	SignaturesRequired  int
	MinBlocksToStore    int
	MaintenanceInterval time.Duration

	Debug bool // console logging at debug level
}

func getenv(key, def string) string {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return i, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return d, nil
}

// Load reads the configuration from MNPAY_ prefixed environment variables,
// falling back to defaults for the ones that are unset.
func Load() (Config, error) {
	defaults := payments.DefaultParameters()
	cfg := Config{
		ListenAddr:   getenv("LISTEN", "/ip4/0.0.0.0/tcp/9999"),
		Network:      getenv("NETWORK", string(defaults.Namespace)),
		RegistryFile: getenv("REGISTRY", "masternodes.json"),
		Key:          strings.TrimSpace(os.Getenv(envPrefix + "KEY")),
		ChainSeed:    getenv("CHAIN_SEED", "mnpay-devnet"),
		Debug:        getenvBool("DEBUG", false),
	}
	if bootstrap := strings.TrimSpace(os.Getenv(envPrefix + "BOOTSTRAP")); bootstrap != "" {
		for _, addr := range strings.Split(bootstrap, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				cfg.Bootstrap = append(cfg.Bootstrap, addr)
			}
		}
	}

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	startHeight, err := getenvInt("START_HEIGHT", 200)
	collect(err)
	cfg.StartHeight = int64(startHeight)
	cfg.SignaturesTotal, err = getenvInt("SIGNATURES_TOTAL", defaults.SignaturesTotal)
	collect(err)
	cfg.SignaturesRequired, err = getenvInt("SIGNATURES_REQUIRED", defaults.SignaturesRequired)
	collect(err)
	cfg.MinBlocksToStore, err = getenvInt("MIN_BLOCKS_TO_STORE", defaults.MinBlocksToStore)
	collect(err)
	cfg.BlockInterval, err = getenvDuration("BLOCK_INTERVAL", 10*time.Second)
	collect(err)
	cfg.SyncTimeout, err = getenvDuration("SYNC_TIMEOUT", 30*time.Second)
	collect(err)
	cfg.MaintenanceInterval, err = getenvDuration("MAINTENANCE_INTERVAL", defaults.MaintenanceInterval)
	collect(err)

	if s := strings.TrimSpace(os.Getenv(envPrefix + "OUTPOINT")); s != "" {
		outpoint, err := payments.ParseOutpoint(s)
		if err != nil {
			collect(fmt.Errorf("%sOUTPOINT: %w", envPrefix, err))
		} else {
			cfg.Outpoint = &outpoint
		}
	}

	if err := errors.Join(errs...); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if (c.Outpoint == nil) != (c.Key == "") {
		return fmt.Errorf("%sOUTPOINT and %sKEY must be set together", envPrefix, envPrefix)
	}
	if c.BlockInterval <= 0 {
		return fmt.Errorf("%sBLOCK_INTERVAL must be positive", envPrefix)
	}
	if c.StartHeight < 0 {
		return fmt.Errorf("%sSTART_HEIGHT can not be negative", envPrefix)
	}
	return c.Parameters().Validate()
}

// IsMasternode reports whether the node votes as a masternode.
func (c Config) IsMasternode() bool {
	return c.Outpoint != nil
}

// Parameters returns the payment parameters with the configured overrides.
func (c Config) Parameters() payments.Parameters {
	params := payments.DefaultParameters()
	params.Namespace = []byte(c.Network)
	params.SignaturesTotal = c.SignaturesTotal
	params.SignaturesRequired = c.SignaturesRequired
	params.MinBlocksToStore = c.MinBlocksToStore
	params.MaintenanceInterval = c.MaintenanceInterval
	return params
}

func (c Config) String() string {
	return fmt.Sprintf("network=%s listen=%s registry=%s masternode=%t", c.Network, c.ListenAddr, c.RegistryFile, c.IsMasternode())
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	outpoint := "none"
	if c.Outpoint != nil {
		outpoint = c.Outpoint.String()
	}
	return fmt.Sprintf(
		"network=%s listen=%s bootstrap=%s registry=%s outpoint=%s key=%s chain_seed=%s start_height=%d block_interval=%s sync_timeout=%s signatures=%d/%d min_blocks=%d maintenance=%s debug=%t",
		c.Network,
		c.ListenAddr,
		strings.Join(c.Bootstrap, ","),
		c.RegistryFile,
		outpoint,
		maskKey(c.Key),
		c.ChainSeed,
		c.StartHeight,
		c.BlockInterval,
		c.SyncTimeout,
		c.SignaturesRequired,
		c.SignaturesTotal,
		c.MinBlocksToStore,
		c.MaintenanceInterval,
		c.Debug,
	)
}

func maskKey(key string) string {
	if key == "" {
		return ""
	}
	return "***"
}
