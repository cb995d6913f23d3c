package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// CheckAccessABI is the minimal ABI of the ticket contract's access view.
const CheckAccessABI = `[{
	"inputs": [{"internalType": "address", "name": "user", "type": "address"}],
	"name": "checkAccess",
	"outputs": [{"internalType": "bool", "name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
}]`

const checkAccessMethod = "checkAccess"

var accessABI = mustParseABI(CheckAccessABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid access ABI: %v", err))
	}
	return parsed
}

// CheckAccessSelector returns the 4-byte selector of checkAccess(address).
func CheckAccessSelector() []byte {
	return accessABI.Methods[checkAccessMethod].ID
}

// AccessOracle performs read-only checkAccess calls against a contract.
type AccessOracle struct {
	caller ethereum.ContractCaller
}

// NewAccessOracle creates an oracle using caller for eth_call.
func NewAccessOracle(caller ethereum.ContractCaller) *AccessOracle {
	return &AccessOracle{caller: caller}
}

// CheckAccess returns the contract's answer for wallet at the latest block.
// Reverts, empty output (no code at contract) and non-boolean words are errors.
func (o *AccessOracle) CheckAccess(ctx context.Context, contract, wallet common.Address) (bool, error) {
	input, err := accessABI.Pack(checkAccessMethod, wallet)
	if err != nil {
		return false, fmt.Errorf("failed to encode checkAccess call: %w", err)
	}

	output, err := o.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: input,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("checkAccess call failed: %w", err)
	}

	values, err := accessABI.Unpack(checkAccessMethod, output)
	if err != nil {
		return false, fmt.Errorf("failed to decode checkAccess result: %w", err)
	}
	if len(values) != 1 {
		return false, fmt.Errorf("checkAccess returned %d values, want 1", len(values))
	}

	granted, ok := values[0].(bool)
	if !ok {
		return false, fmt.Errorf("checkAccess returned %T, want bool", values[0])
	}
	return granted, nil
}
