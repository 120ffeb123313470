package chain

import (
	"context"
	"strings"

	"tpotp2p/internal/config"
)

// TronAdapter verifies TRC20 token transfers via a full node's
// gettransactioninfobyid endpoint. Log addresses arrive as 20-byte hex and
// are re-encoded to base58check for comparison with stored addresses.
type TronAdapter struct {
	chainID     string
	contractHex string
	decimals    int32
	rpc         *rpcClient
}

func NewTronAdapter(chainID string, cfg config.ChainConfig) (*TronAdapter, error) {
	contractHex, err := TronToHex20(cfg.TokenContract)
	if err != nil {
		return nil, err
	}
	return &TronAdapter{
		chainID:     chainID,
		contractHex: contractHex,
		decimals:    cfg.TokenDecimals,
		rpc:         newRPCClient(cfg.RPCEndpoints, 3),
	}, nil
}

func (a *TronAdapter) ChainID() string { return a.chainID }

type tronTxInfo struct {
	ID      string `json:"id"`
	Receipt struct {
		Result string `json:"result"`
	} `json:"receipt"`
	Log []struct {
		Address string   `json:"address"`
		Topics  []string `json:"topics"`
		Data    string   `json:"data"`
	} `json:"log"`
}

func (a *TronAdapter) FetchTransfer(ctx context.Context, txHash string) (*TxInfo, error) {
	var tx tronTxInfo
	err := a.rpc.postJSON(ctx, "/wallet/gettransactioninfobyid", map[string]string{"value": txHash}, &tx)
	if err != nil {
		return nil, err
	}
	// The node answers {} for unknown hashes.
	if tx.ID == "" {
		return nil, ErrTxNotFound
	}

	// TVM contract calls report SUCCESS in the receipt; plain transfers
	// carry no receipt result and cannot hold TRC20 logs anyway.
	info := &TxInfo{Success: tx.Receipt.Result == "" || tx.Receipt.Result == "SUCCESS"}
	if !info.Success {
		return info, nil
	}

	for _, lg := range tx.Log {
		if normalizeTronHex(lg.Address) != a.contractHex {
			continue
		}
		if len(lg.Topics) < 3 || !isTransferTopic(lg.Topics[0]) {
			continue
		}
		from, err := TronFromHex20(lg.Topics[1])
		if err != nil {
			return nil, err
		}
		to, err := TronFromHex20(lg.Topics[2])
		if err != nil {
			return nil, err
		}
		if info.Sender == "" {
			info.Sender = from
		}
		amount, err := hexToDecimal(lg.Data, a.decimals)
		if err != nil {
			return nil, err
		}
		contract, err := TronFromHex20(a.contractHex)
		if err != nil {
			return nil, err
		}
		info.Transfers = append(info.Transfers, Transfer{
			Receiver: to,
			Token:    contract,
			Amount:   amount,
		})
	}
	return info, nil
}

// normalizeTronHex strips 0x/41 prefixes down to the bare 20-byte hex id.
func normalizeTronHex(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "0x"))
	if len(s) == 42 && strings.HasPrefix(s, "41") {
		s = s[2:]
	}
	return s
}

func isTransferTopic(topic string) bool {
	t := strings.ToLower(strings.TrimPrefix(topic, "0x"))
	want := strings.ToLower(strings.TrimPrefix(transferTopic, "0x"))
	return t == want
}
