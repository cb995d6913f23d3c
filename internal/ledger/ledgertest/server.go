// Package ledgertest provides a fake Ethereum JSON-RPC node answering checkAccess calls.
package ledgertest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SepoliaChainID is reported by eth_chainId unless changed.
const SepoliaChainID = 11155111

var checkAccessSelector = crypto.Keccak256([]byte("checkAccess(address)"))[:4]

// Call records one eth_call received by the server.
type Call struct {
	To     common.Address
	Wallet common.Address
	Input  []byte
}

// Server is an in-process ledger node. Wallets not in the access table are denied.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	chainID   uint64
	access    map[common.Address]bool
	revert    string
	rawResult string
	calls     []Call
}

// NewServer starts a fake node and closes it when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		chainID: SepoliaChainID,
		access:  make(map[common.Address]bool),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// SetAccess sets the oracle answer for wallet.
func (s *Server) SetAccess(wallet common.Address, granted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access[wallet] = granted
}

// SetRevert makes every eth_call fail with an execution-reverted error.
func (s *Server) SetRevert(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revert = reason
}

// SetRawResult makes every eth_call return the given hex string verbatim.
func (s *Server) SetRawResult(result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawResult = result
}

// Calls returns the eth_call requests received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callArgs struct {
	To    string `json:"to"`
	Input string `json:"input"`
	Data  string `json:"data"`
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_chainId":
		s.mu.Lock()
		resp.Result = fmt.Sprintf("0x%x", s.chainID)
		s.mu.Unlock()
	case "eth_call":
		result, rpcErr := s.call(req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", req.Method)}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) call(params []json.RawMessage) (string, *rpcError) {
	if len(params) == 0 {
		return "", &rpcError{Code: -32602, Message: "missing call arguments"}
	}

	var args callArgs
	if err := json.Unmarshal(params[0], &args); err != nil {
		return "", &rpcError{Code: -32602, Message: err.Error()}
	}

	encoded := args.Input
	if encoded == "" {
		encoded = args.Data
	}
	input, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil || len(input) != 4+32 || !bytes.Equal(input[:4], checkAccessSelector) {
		return "", &rpcError{Code: 3, Message: "execution reverted"}
	}
	wallet := common.BytesToAddress(input[4:])

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{
		To:     common.HexToAddress(args.To),
		Wallet: wallet,
		Input:  input,
	})

	if s.revert != "" {
		return "", &rpcError{Code: 3, Message: "execution reverted: " + s.revert}
	}
	if s.rawResult != "" {
		return s.rawResult, nil
	}

	word := make([]byte, 32)
	if s.access[wallet] {
		word[31] = 1
	}
	return "0x" + hex.EncodeToString(word), nil
}
