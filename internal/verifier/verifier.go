// Package verifier decides WiFi access for a wallet from the ticket contract
// and applies the decision to the gateway allow-list.
package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/airfi/airfi-gate/internal/ledger"
	"github.com/airfi/airfi-gate/internal/router"
)

// Decision is the oracle's answer for one wallet.
type Decision string

const (
	// Granted means the wallet holds an active ticket.
	Granted Decision = "granted"
	// Denied means it does not.
	Denied Decision = "denied"
)

// State is the outcome of a verification. Pending is the only non-terminal state.
type State string

const (
	StatePending State = "pending"
	StateGranted State = "granted"
	StateDenied  State = "denied"
	StateFailed  State = "failed"
)

// Config holds the defaults and limits applied to every verification.
type Config struct {
	// Endpoint and Contract are used when a Request leaves them empty.
	Endpoint string
	Contract string

	// Timeout bounds dialing and the contract call. Zero means no limit
	// beyond the caller's context.
	Timeout time.Duration

	// Strict fails the verification when the allow-list mutation fails.
	// Otherwise the failure is only logged and reported in Result.MutationErr.
	Strict bool

	// OnDecision, if set, is called once the oracle has answered and before
	// the allow-list is touched.
	OnDecision func(*Result)
}

// Request identifies the client to verify.
type Request struct {
	Endpoint string // ledger node URL
	Contract string // ticket contract address
	Wallet   string // client wallet address
	Hardware string // client MAC address, passed to the allow-list as is
}

// Result describes one verification, successful or not.
type Result struct {
	ID            string
	StartedAt     time.Time
	Endpoint      string
	Contract      common.Address
	Wallet        common.Address
	Hardware      string
	State         State
	Decision      Decision // empty unless the oracle answered
	OracleLatency time.Duration
	MutationErr   error
	Err           error
}

// Granted reports whether the client was granted access.
func (r *Result) Granted() bool {
	return r.State == StateGranted
}

// Verifier runs the access check and the allow-list mutation.
type Verifier struct {
	config    Config
	dialer    ledger.Dialer
	allowlist router.Allowlist
	logger    *zap.Logger
}

// New creates a Verifier.
func New(config Config, dialer ledger.Dialer, allowlist router.Allowlist, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		config:    config,
		dialer:    dialer,
		allowlist: allowlist,
		logger:    logger,
	}
}

// Verify checks req.Wallet against the ticket contract and adds or removes
// req.Hardware from the allow-list accordingly. The returned Result is never
// nil. On error it is in StateFailed and the error is a *Error; no allow-list
// mutation is made unless the oracle answered.
func (v *Verifier) Verify(ctx context.Context, req Request) (result *Result, err error) {
	result = &Result{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Endpoint:  req.Endpoint,
		Hardware:  req.Hardware,
		State:     StatePending,
	}
	if result.Endpoint == "" {
		result.Endpoint = v.config.Endpoint
	}
	logger := v.logger.With(zap.String("verification_id", result.ID))

	defer func() {
		if r := recover(); r != nil {
			err = newError(ErrUnknown, "verify", fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			result.State = StateFailed
			result.Err = err
			logger.Warn("verification failed", zap.Error(err))
		}
	}()

	contractID := req.Contract
	if contractID == "" {
		contractID = v.config.Contract
	}
	contract, err := NormalizeAddress(contractID)
	if err != nil {
		return result, newError(ErrInvalidIdentifier, "contract", err)
	}
	result.Contract = contract

	wallet, err := NormalizeAddress(req.Wallet)
	if err != nil {
		return result, newError(ErrInvalidIdentifier, "wallet", err)
	}
	result.Wallet = wallet

	if result.Endpoint == "" {
		return result, newError(ErrConnection, "dial", fmt.Errorf("no ledger endpoint configured"))
	}

	logger.Info("verifying access",
		zap.String("rpc_url", result.Endpoint),
		zap.String("contract", contract.Hex()),
		zap.String("wallet", wallet.Hex()),
		zap.String("mac", req.Hardware),
	)

	granted, latency, err := v.query(ctx, result.Endpoint, contract, wallet)
	result.OracleLatency = latency
	if err != nil {
		return result, err
	}

	var mutationErr error
	if granted {
		result.Decision = Granted
		result.State = StateGranted
	} else {
		result.Decision = Denied
		result.State = StateDenied
	}
	if v.config.OnDecision != nil {
		v.config.OnDecision(result)
	}
	if granted {
		mutationErr = v.allowlist.AllowlistAdd(ctx, req.Hardware)
	} else {
		mutationErr = v.allowlist.AllowlistRemove(ctx, req.Hardware)
	}

	logger.Info("access decided",
		zap.String("decision", string(result.Decision)),
		zap.String("wallet", wallet.Hex()),
		zap.Duration("oracle_latency", latency),
	)

	if mutationErr != nil {
		result.MutationErr = mutationErr
		if v.config.Strict {
			return result, newError(ErrMutation, string(result.Decision), mutationErr)
		}
		logger.Warn("allow-list update failed",
			zap.String("mac", req.Hardware),
			zap.String("decision", string(result.Decision)),
			zap.Error(mutationErr),
		)
	}

	return result, nil
}

// query dials the ledger and performs the single checkAccess call. The
// connection is closed before the caller touches the allow-list.
func (v *Verifier) query(ctx context.Context, endpoint string, contract, wallet common.Address) (bool, time.Duration, error) {
	if v.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.config.Timeout)
		defer cancel()
	}

	conn, err := v.dialer.Dial(ctx, endpoint)
	if err != nil {
		return false, 0, newError(ErrConnection, "dial", err)
	}
	defer conn.Close()

	if err := conn.Ping(ctx); err != nil {
		return false, 0, newError(ErrConnection, "ping", err)
	}

	start := time.Now()
	granted, err := conn.CheckAccess(ctx, contract, wallet)
	latency := time.Since(start)
	if err != nil {
		return false, latency, newError(ErrRemoteCall, "checkAccess", err)
	}
	return granted, latency, nil
}
