package domain

import (
	"context"
	"encoding/json"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// CallRequest is a mutating operation signed by Signer against the contract
// account Receiver.
type CallRequest struct {
	Signer   string          `json:"signer_id"`
	Receiver string          `json:"receiver_id"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
	Deposit  Amount          `json:"deposit"`
	Gas      uint64          `json:"gas"`
}

type ViewRequest struct {
	Receiver string          `json:"receiver_id"`
	Method   string          `json:"method"`
	Args     json.RawMessage `json:"args,omitempty"`
}

// ReceiptOutcome is the result of one sub-operation spawned by a call.
type ReceiptOutcome struct {
	Receiver string          `json:"receiver_id"`
	Method   string          `json:"method"`
	Status   string          `json:"status"`
	Failure  *ExecutionError `json:"failure,omitempty"`
	Logs     []string        `json:"logs,omitempty"`
}

type ExecutionResult struct {
	Status   string           `json:"status"`
	Failure  *ExecutionError  `json:"failure,omitempty"`
	Receipts []ReceiptOutcome `json:"receipts,omitempty"`
	Logs     []string         `json:"logs,omitempty"`
	GasBurnt uint64           `json:"gas_burnt"`
	Value    json.RawMessage  `json:"value,omitempty"`
}

func (r *ExecutionResult) IsFailure() bool {
	return r.Status != StatusSuccess
}

func (r *ExecutionResult) ReceiptFailures() []ExecutionError {
	var failures []ExecutionError
	for _, receipt := range r.Receipts {
		if receipt.Failure != nil {
			failures = append(failures, *receipt.Failure)
		}
	}
	return failures
}

// Err returns a LedgerCallError when the call or any of its receipts failed,
// even if the top-level status reports success.
func (r *ExecutionResult) Err(method string) error {
	receiptFailures := r.ReceiptFailures()
	if !r.IsFailure() && len(receiptFailures) == 0 {
		return nil
	}
	callErr := NewLedgerCallError(method, nil)
	callErr.ReceiptFailures = receiptFailures
	if r.IsFailure() {
		callErr.Failure = r.Failure
		if callErr.Failure == nil {
			callErr.Failure = &ExecutionError{Code: CodeLedgerCallFailed, Message: "call failed without a reason"}
		}
	}
	return callErr
}

type BlockInfo struct {
	Height    uint64    `json:"height"`
	Epoch     uint64    `json:"epoch"`
	Timestamp Timestamp `json:"timestamp"`
}

// Ledger is the external ledger the core is driven through.
type Ledger interface {
	Call(ctx context.Context, req CallRequest) (*ExecutionResult, error)
	View(ctx context.Context, req ViewRequest) (json.RawMessage, error)
	Block(ctx context.Context) (BlockInfo, error)
	CurrentEpoch(ctx context.Context) (uint64, error)
	AdvanceBlocks(ctx context.Context, n uint64) error
}
