// Package ledger provides the EVM ledger connection used for access checks.
package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// Conn is an open handle to a ledger node.
type Conn interface {
	// Ping reports whether the node answers requests.
	Ping(ctx context.Context) error

	// CheckAccess asks the oracle contract whether wallet currently holds access.
	CheckAccess(ctx context.Context, contract, wallet common.Address) (bool, error)

	// Close releases the connection.
	Close()
}

// Dialer opens connections to ledger nodes.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// EthDialer dials Ethereum JSON-RPC endpoints (http, https, ws, wss, ipc).
type EthDialer struct {
	logger *zap.Logger
}

// NewEthDialer creates a dialer backed by go-ethereum's ethclient.
func NewEthDialer(logger *zap.Logger) *EthDialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EthDialer{logger: logger}
}

// Dial connects to endpoint. For HTTP endpoints no request is made until Ping.
func (d *EthDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	d.logger.Debug("dialing ledger node", zap.String("rpc_url", endpoint))

	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ledger node: %w", err)
	}

	return &EthConn{
		client: client,
		oracle: NewAccessOracle(client),
		logger: d.logger,
	}, nil
}

// EthConn is a Conn over an ethclient.Client.
type EthConn struct {
	client  *ethclient.Client
	oracle  *AccessOracle
	logger  *zap.Logger
	chainID *big.Int
}

// Ping verifies the node is reachable by calling eth_chainId.
func (c *EthConn) Ping(ctx context.Context) error {
	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("ledger node unreachable: %w", err)
	}
	c.chainID = chainID

	c.logger.Info("ledger node connected", zap.String("chain_id", chainID.String()))
	return nil
}

// ChainID returns the chain ID observed by the last successful Ping, or nil.
func (c *EthConn) ChainID() *big.Int {
	return c.chainID
}

// CheckAccess calls checkAccess(wallet) on contract.
func (c *EthConn) CheckAccess(ctx context.Context, contract, wallet common.Address) (bool, error) {
	return c.oracle.CheckAccess(ctx, contract, wallet)
}

// Close closes the underlying RPC client.
func (c *EthConn) Close() {
	c.client.Close()
}
