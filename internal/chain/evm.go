package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"tpotp2p/internal/config"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = func() string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte("Transfer(address,address,uint256)"))
	return "0x" + hex.EncodeToString(h.Sum(nil))
}()

// EVMAdapter verifies ERC20 token transfers from transaction receipts.
// Addresses are returned in EIP-55 checksummed form so they compare equal
// to stored payment addresses.
type EVMAdapter struct {
	chainID  string
	contract string
	decimals int32
	rpc      *rpcClient
}

func NewEVMAdapter(chainID string, cfg config.ChainConfig) *EVMAdapter {
	contract, err := EIP55(cfg.TokenContract)
	if err != nil {
		contract = cfg.TokenContract
	}
	return &EVMAdapter{
		chainID:  chainID,
		contract: contract,
		decimals: cfg.TokenDecimals,
		rpc:      newRPCClient(cfg.RPCEndpoints, 3),
	}
}

func (a *EVMAdapter) ChainID() string { return a.chainID }

type evmReceipt struct {
	Status string `json:"status"`
	From   string `json:"from"`
	Logs   []struct {
		Address string   `json:"address"`
		Topics  []string `json:"topics"`
		Data    string   `json:"data"`
	} `json:"logs"`
}

func (a *EVMAdapter) FetchTransfer(ctx context.Context, txHash string) (*TxInfo, error) {
	var receipt evmReceipt
	err := a.rpc.jsonRPCCall(ctx, "eth_getTransactionReceipt", []any{txHash}, &receipt)
	if errors.Is(err, errNullResult) {
		return nil, ErrTxNotFound
	}
	if err != nil {
		return nil, err
	}

	sender, err := EIP55(receipt.From)
	if err != nil {
		sender = receipt.From
	}
	info := &TxInfo{
		Success: strings.EqualFold(receipt.Status, "0x1"),
		Sender:  sender,
	}
	if !info.Success {
		return info, nil
	}

	for _, lg := range receipt.Logs {
		if !strings.EqualFold(lg.Address, a.contract) {
			continue
		}
		if len(lg.Topics) < 3 || !strings.EqualFold(lg.Topics[0], transferTopic) {
			continue
		}
		to, err := topicToAddress(lg.Topics[2])
		if err != nil {
			return nil, err
		}
		amount, err := hexToDecimal(lg.Data, a.decimals)
		if err != nil {
			return nil, err
		}
		info.Transfers = append(info.Transfers, Transfer{
			Receiver: to,
			Token:    a.contract,
			Amount:   amount,
		})
	}
	return info, nil
}

// topicToAddress extracts the 20-byte address padded into a 32-byte topic.
func topicToAddress(topic string) (string, error) {
	t := strings.TrimPrefix(topic, "0x")
	if len(t) != 64 {
		return "", fmt.Errorf("bad topic length %d", len(t))
	}
	return EIP55("0x" + t[24:])
}

func hexToDecimal(data string, decimals int32) (decimal.Decimal, error) {
	t := strings.TrimPrefix(data, "0x")
	if t == "" {
		return decimal.Zero, nil
	}
	bi, ok := new(big.Int).SetString(t, 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("bad hex amount %q", data)
	}
	return decimal.NewFromBigInt(bi, -decimals), nil
}
