package verifier

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress parses a 20-byte hex account identifier in any letter case,
// with or without the 0x prefix. The returned address's Hex() is its EIP-55
// checksum form. A mixed-case input with a wrong checksum is still accepted.
func NormalizeAddress(s string) (common.Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%q is not a 20-byte hex address", s)
	}
	return common.HexToAddress(trimmed), nil
}
