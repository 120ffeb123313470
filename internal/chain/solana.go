package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"tpotp2p/internal/config"
)

// SolanaAdapter reads SPL token transfers out of a confirmed transaction by
// diffing pre/post token balances, the same way explorers attribute
// transfers. The mint's own decimals come back with each balance entry.
type SolanaAdapter struct {
	chainID string
	rpc     *rpcClient
}

func NewSolanaAdapter(chainID string, cfg config.ChainConfig) *SolanaAdapter {
	return &SolanaAdapter{
		chainID: chainID,
		rpc:     newRPCClient(cfg.RPCEndpoints, 3),
	}
}

func (a *SolanaAdapter) ChainID() string { return a.chainID }

type solanaTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int32  `json:"decimals"`
	} `json:"uiTokenAmount"`
}

type solanaTx struct {
	Meta struct {
		Err               any                  `json:"err"`
		PreTokenBalances  []solanaTokenBalance `json:"preTokenBalances"`
		PostTokenBalances []solanaTokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
	Transaction struct {
		Message struct {
			AccountKeys []string `json:"accountKeys"`
		} `json:"message"`
	} `json:"transaction"`
}

func (a *SolanaAdapter) FetchTransfer(ctx context.Context, txHash string) (*TxInfo, error) {
	params := []any{txHash, map[string]any{
		"encoding":                       "json",
		"commitment":                     "confirmed",
		"maxSupportedTransactionVersion": 0,
	}}

	var tx solanaTx
	err := a.rpc.jsonRPCCall(ctx, "getTransaction", params, &tx)
	if errors.Is(err, errNullResult) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}

	info := &TxInfo{Success: tx.Meta.Err == nil}
	if keys := tx.Transaction.Message.AccountKeys; len(keys) > 0 {
		// Fee payer / first signer.
		info.Sender = keys[0]
	}
	if !info.Success {
		return info, nil
	}

	pre := map[int]solanaTokenBalance{}
	for _, b := range tx.Meta.PreTokenBalances {
		pre[b.AccountIndex] = b
	}
	for _, post := range tx.Meta.PostTokenBalances {
		postAmt, err := rawToDecimal(post.UITokenAmount.Amount, post.UITokenAmount.Decimals)
		if err != nil {
			return nil, err
		}
		preAmt := decimal.Zero
		if p, ok := pre[post.AccountIndex]; ok {
			preAmt, err = rawToDecimal(p.UITokenAmount.Amount, p.UITokenAmount.Decimals)
			if err != nil {
				return nil, err
			}
		}
		diff := postAmt.Sub(preAmt)
		if diff.IsPositive() {
			info.Transfers = append(info.Transfers, Transfer{
				Receiver: post.Owner,
				Token:    post.Mint,
				Amount:   diff,
			})
		}
	}
	return info, nil
}

func rawToDecimal(raw string, decimals int32) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	bi, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return decimal.Zero, fmt.Errorf("bad raw amount %q", raw)
	}
	return decimal.NewFromBigInt(bi, -decimals), nil
}
