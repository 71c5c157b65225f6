package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

const (
	// AccountPrefix is used for participant, arbiter and fee recipient addresses.
	AccountPrefix AddressPrefix = "esc"
	// TokenPrefix is used for asset contract addresses.
	TokenPrefix AddressPrefix = "esctoken"
)

// Address represents a 20-byte account identifier with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [20]byte
}

// NewAddress wraps raw bytes. It panics when b is not 20 bytes long.
func NewAddress(prefix AddressPrefix, b []byte) Address {
	addr, err := TryNewAddress(prefix, b)
	if err != nil {
		panic(err)
	}
	return addr
}

// TryNewAddress is the non-panicking form of NewAddress.
func TryNewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != 20 {
		return Address{}, fmt.Errorf("address must be 20 bytes long, got %d", len(b))
	}
	var raw [20]byte
	copy(raw[:], b)
	return Address{prefix: prefix, bytes: raw}, nil
}

// FromRaw wraps a fixed-size account identifier.
func FromRaw(prefix AddressPrefix, raw [20]byte) Address {
	return Address{prefix: prefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	out := make([]byte, 20)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the fixed-size identifier.
func (a Address) Raw() [20]byte { return a.bytes }

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return TryNewAddress(AddressPrefix(prefix), conv)
}

// ParseAccount accepts either a bech32 address or a 0x-prefixed hex address and
// returns the raw identifier.
func ParseAccount(raw string) ([20]byte, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return [20]byte{}, fmt.Errorf("invalid hex address %q", trimmed)
		}
		return [20]byte(common.HexToAddress(trimmed)), nil
	}
	addr, err := DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Raw(), nil
}

// DeriveAddress returns the last 20 bytes of keccak256(domain || parts...). It
// is used for deterministic custody addresses such as relay endpoints.
func DeriveAddress(domain string, parts ...[]byte) [20]byte {
	data := make([][]byte, 0, len(parts)+1)
	data = append(data, []byte(domain))
	data = append(data, parts...)
	hash := ethcrypto.Keccak256(data...)
	var out [20]byte
	copy(out[:], hash[12:])
	return out
}
