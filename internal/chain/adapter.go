package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tpotp2p/internal/config"
)

var (
	// ErrTxNotFound means the chain has no record of the hash. Distinct from
	// a transaction that exists but failed on-chain (TxInfo.Success=false).
	ErrTxNotFound = errors.New("transaction not found")
	// ErrUnavailable wraps RPC/network failures; callers may retry.
	ErrUnavailable = errors.New("chain unavailable")
	ErrUnknownChain = errors.New("unknown chain")
)

// Transfer is one token credit observed inside a transaction, with the
// amount already normalized to the token's decimal precision.
type Transfer struct {
	Receiver string
	Token    string
	Amount   decimal.Decimal
}

// TxInfo is the read-only result of a chain lookup. Sender is the signing
// account; Transfers lists every token credit the transaction produced.
type TxInfo struct {
	Success   bool
	Sender    string
	Transfers []Transfer
}

// Adapter is a stateless, read-only query client for one chain.
type Adapter interface {
	ChainID() string
	FetchTransfer(ctx context.Context, txHash string) (*TxInfo, error)
}

// Registry maps chain ids to adapters, selected at startup from config so
// no chain-specific branching leaks into business logic.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.ChainID()] = a
}

func (r *Registry) Get(chainID string) (Adapter, error) {
	a, ok := r.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChain, chainID)
	}
	return a, nil
}

// FromConfig builds a registry with one adapter per configured chain.
func FromConfig(chains map[string]config.ChainConfig) (*Registry, error) {
	r := NewRegistry()
	for id, cc := range chains {
		switch cc.Kind {
		case config.KindSolana:
			r.Register(NewSolanaAdapter(id, cc))
		case config.KindTron:
			a, err := NewTronAdapter(id, cc)
			if err != nil {
				return nil, fmt.Errorf("chain %s: %w", id, err)
			}
			r.Register(a)
		case config.KindEVM:
			r.Register(NewEVMAdapter(id, cc))
		default:
			return nil, fmt.Errorf("chain %s: unknown kind %q", id, cc.Kind)
		}
	}
	return r, nil
}
