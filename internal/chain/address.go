package chain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"golang.org/x/crypto/sha3"

	"tpotp2p/internal/config"
)

// TRON addresses are base58check with a 0x41 version byte over a 20-byte
// account id.
const tronVersionByte = 0x41

var ErrBadAddress = errors.New("malformed address")

// TronFromHex20 encodes a 20-byte hex account id as a base58check address.
func TronFromHex20(hex20 string) (string, error) {
	hex20 = strings.TrimPrefix(strings.TrimPrefix(hex20, "0x"), "41")
	if len(hex20) > 40 {
		hex20 = hex20[len(hex20)-40:]
	}
	raw, err := hex.DecodeString(hex20)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if len(raw) != 20 {
		return "", fmt.Errorf("%w: expected 20-byte account id", ErrBadAddress)
	}
	return base58.CheckEncode(raw, tronVersionByte), nil
}

// TronToHex20 decodes a base58check TRON address into its 20-byte hex id.
func TronToHex20(addr string) (string, error) {
	raw, version, err := base58.CheckDecode(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}
	if version != tronVersionByte || len(raw) != 20 {
		return "", fmt.Errorf("%w: not a tron address", ErrBadAddress)
	}
	return hex.EncodeToString(raw), nil
}

// EIP55 normalizes an EVM address to its checksummed form.
func EIP55(addr string) (string, error) {
	lower := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	if len(lower) != 40 {
		return "", fmt.Errorf("%w: expected 20-byte hex address", ErrBadAddress)
	}
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadAddress, err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	sum := h.Sum(nil)

	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := lower[i]
		if c >= 'a' && c <= 'f' {
			nibble := sum[i/2]
			if i%2 == 0 {
				nibble >>= 4
			}
			if nibble&0x0f >= 8 {
				c = c - 'a' + 'A'
			}
		}
		out[i] = c
	}
	return "0x" + string(out), nil
}

// ValidateAddress checks the wire format of a payment address for a chain
// kind and returns the canonical form to store.
func ValidateAddress(kind config.ChainKind, addr string) (string, error) {
	switch kind {
	case config.KindTron:
		if _, err := TronToHex20(addr); err != nil {
			return "", err
		}
		return addr, nil
	case config.KindEVM:
		return EIP55(addr)
	case config.KindSolana:
		raw := base58.Decode(addr)
		if len(raw) != 32 {
			return "", fmt.Errorf("%w: expected 32-byte base58 key", ErrBadAddress)
		}
		return addr, nil
	}
	return "", fmt.Errorf("%w: unsupported chain kind %q", ErrBadAddress, kind)
}
