package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainKind selects the adapter implementation for a configured chain.
type ChainKind string

const (
	KindSolana ChainKind = "solana"
	KindTron   ChainKind = "tron"
	KindEVM    ChainKind = "evm"
)

type ChainConfig struct {
	Kind          ChainKind `yaml:"kind"`
	RPCEndpoints  []string  `yaml:"rpc_endpoints"`
	TokenContract string    `yaml:"token_contract"`
	TokenDecimals int32     `yaml:"token_decimals"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Escrow struct {
		Account        string `yaml:"account"`
		ChainID        string `yaml:"chain_id"`
		TokenMint      string `yaml:"token_mint"`
		TokenDecimals  int32  `yaml:"token_decimals"`
		SignerEndpoint string `yaml:"signer_endpoint"`
	} `yaml:"escrow"`
	Orders struct {
		FeeRate               string `yaml:"fee_rate"`
		EscrowTolerance       string `yaml:"escrow_tolerance"`
		QuoteDecimals         int32  `yaml:"quote_decimals"`
		ExpiryHours           int    `yaml:"expiry_hours"`
		PaymentTimeoutMinutes int    `yaml:"payment_timeout_minutes"`
		ArbiterWallet         string `yaml:"arbiter_wallet"`
	} `yaml:"orders"`
	Chains map[string]ChainConfig `yaml:"chains"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Escrow.Account == "" || cfg.Escrow.TokenMint == "" || cfg.Escrow.ChainID == "" {
		return nil, errors.New("escrow config is incomplete")
	}
	if cfg.Orders.FeeRate == "" {
		return nil, errors.New("orders.fee_rate is required")
	}
	if len(cfg.Chains) == 0 {
		return nil, errors.New("at least one chain must be configured")
	}
	if _, ok := cfg.Chains[cfg.Escrow.ChainID]; !ok {
		return nil, fmt.Errorf("escrow.chain_id %q is not in chains", cfg.Escrow.ChainID)
	}
	for id, cc := range cfg.Chains {
		if len(cc.RPCEndpoints) == 0 {
			return nil, fmt.Errorf("chain %q has no rpc endpoints", id)
		}
		switch cc.Kind {
		case KindSolana, KindTron, KindEVM:
		default:
			return nil, fmt.Errorf("chain %q has unknown kind %q", id, cc.Kind)
		}
	}
	if cfg.Orders.ExpiryHours <= 0 {
		cfg.Orders.ExpiryHours = 24
	}
	if cfg.Orders.PaymentTimeoutMinutes <= 0 {
		cfg.Orders.PaymentTimeoutMinutes = 30
	}
	if cfg.Orders.QuoteDecimals <= 0 {
		cfg.Orders.QuoteDecimals = 2
	}
	if cfg.Orders.EscrowTolerance == "" {
		cfg.Orders.EscrowTolerance = "0.01"
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("ESCROW_ACCOUNT"); v != "" {
		cfg.Escrow.Account = v
	}
	if v := os.Getenv("ESCROW_CHAIN_ID"); v != "" {
		cfg.Escrow.ChainID = v
	}
	if v := os.Getenv("TOKEN_MINT"); v != "" {
		cfg.Escrow.TokenMint = v
	}
	if v := os.Getenv("TOKEN_DECIMALS"); v != "" {
		cfg.Escrow.TokenDecimals = int32(atoiOr(int(cfg.Escrow.TokenDecimals), v))
	}
	if v := os.Getenv("RELEASE_SIGNER_ENDPOINT"); v != "" {
		cfg.Escrow.SignerEndpoint = v
	}
	if v := os.Getenv("FEE_RATE"); v != "" {
		cfg.Orders.FeeRate = v
	}
	if v := os.Getenv("ESCROW_TOLERANCE"); v != "" {
		cfg.Orders.EscrowTolerance = v
	}
	if v := os.Getenv("ORDER_EXPIRY_HOURS"); v != "" {
		cfg.Orders.ExpiryHours = atoiOr(cfg.Orders.ExpiryHours, v)
	}
	if v := os.Getenv("PAYMENT_TIMEOUT_MINUTES"); v != "" {
		cfg.Orders.PaymentTimeoutMinutes = atoiOr(cfg.Orders.PaymentTimeoutMinutes, v)
	}
	if v := os.Getenv("ARBITER_WALLET"); v != "" {
		cfg.Orders.ArbiterWallet = v
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}

	// Per-chain RPC overrides: RPC_ENDPOINTS_<CHAINID>=url1,url2
	for id, cc := range cfg.Chains {
		key := "RPC_ENDPOINTS_" + strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
		if v := os.Getenv(key); v != "" {
			cc.RPCEndpoints = splitCommaList(v)
			cfg.Chains[id] = cc
		}
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
