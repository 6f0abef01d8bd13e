package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInsufficientUnstakedBalance = errors.New("stake: insufficient unstaked balance")
	ErrInsufficientStakedBalance   = errors.New("stake: insufficient staked balance")
	ErrWithdrawalLocked            = errors.New("stake: unstaked balance is not yet available for withdrawal")
	ErrNothingToClaim              = errors.New("farm: nothing to claim")
	ErrUnknownFarm                 = errors.New("farm: unknown farm")
	ErrLedgerCallFailed            = errors.New("ledger: call failed")
	ErrClockStalled                = errors.New("clock: epoch did not advance")

	ErrInvalidAmount    = errors.New("amount: invalid")
	ErrAmountOverflow   = errors.New("amount: overflows u128")
	ErrInvalidFarm      = errors.New("farm: invalid parameters")
	ErrTokenMismatch    = errors.New("farm: token does not match farm")
	ErrUnknownMethod    = errors.New("ledger: unknown method")
	ErrPermissionDenied = errors.New("ledger: permission denied")
	ErrInvalidArgument  = errors.New("ledger: invalid argument")
)

// Wire codes for the taxonomy. They are part of the ledger protocol and must
// stay stable.
const (
	CodeInsufficientUnstakedBalance = "InsufficientUnstakedBalance"
	CodeInsufficientStakedBalance   = "InsufficientStakedBalance"
	CodeWithdrawalLocked            = "WithdrawalLocked"
	CodeNothingToClaim              = "NothingToClaim"
	CodeUnknownFarm                 = "UnknownFarm"
	CodeLedgerCallFailed            = "LedgerCallFailed"
	CodeClockStalled                = "ClockStalled"
	CodeInvalidAmount               = "InvalidAmount"
	CodeAmountOverflow              = "AmountOverflow"
	CodeInvalidFarm                 = "InvalidFarm"
	CodeTokenMismatch               = "TokenMismatch"
	CodeUnknownMethod               = "UnknownMethod"
	CodePermissionDenied            = "PermissionDenied"
	CodeInvalidArgument             = "InvalidArgument"
)

var codeToErr = map[string]error{
	CodeInsufficientUnstakedBalance: ErrInsufficientUnstakedBalance,
	CodeInsufficientStakedBalance:   ErrInsufficientStakedBalance,
	CodeWithdrawalLocked:            ErrWithdrawalLocked,
	CodeNothingToClaim:              ErrNothingToClaim,
	CodeUnknownFarm:                 ErrUnknownFarm,
	CodeLedgerCallFailed:            ErrLedgerCallFailed,
	CodeClockStalled:                ErrClockStalled,
	CodeInvalidAmount:               ErrInvalidAmount,
	CodeAmountOverflow:              ErrAmountOverflow,
	CodeInvalidFarm:                 ErrInvalidFarm,
	CodeTokenMismatch:               ErrTokenMismatch,
	CodeUnknownMethod:               ErrUnknownMethod,
	CodePermissionDenied:            ErrPermissionDenied,
	CodeInvalidArgument:             ErrInvalidArgument,
}

// ErrorCode maps an error onto its wire code. Errors outside the taxonomy map
// to LedgerCallFailed.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	// Check the specific sentinels before the generic ledger failure so that a
	// LedgerCallError reports the cause it carries.
	for _, code := range []string{
		CodeInsufficientUnstakedBalance,
		CodeInsufficientStakedBalance,
		CodeWithdrawalLocked,
		CodeNothingToClaim,
		CodeUnknownFarm,
		CodeClockStalled,
		CodeAmountOverflow,
		CodeInvalidAmount,
		CodeInvalidFarm,
		CodeTokenMismatch,
		CodeUnknownMethod,
		CodePermissionDenied,
		CodeInvalidArgument,
	} {
		if errors.Is(err, codeToErr[code]) {
			return code
		}
	}
	return CodeLedgerCallFailed
}

// ErrorFromCode returns the sentinel for a wire code, or nil if unknown.
func ErrorFromCode(code string) error {
	return codeToErr[code]
}

// ExecutionError is a failure reported by the ledger for a call or one of its
// receipts.
type ExecutionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewExecutionError(err error) *ExecutionError {
	return &ExecutionError{Code: ErrorCode(err), Message: err.Error()}
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExecutionError) Unwrap() error {
	return ErrorFromCode(e.Code)
}

// LedgerCallError wraps every failure, top-level or receipt-level, of a ledger
// call. It matches ErrLedgerCallFailed and the typed cause of its first
// failure under errors.Is.
type LedgerCallError struct {
	Method          string
	Failure         *ExecutionError
	ReceiptFailures []ExecutionError
	cause           error
}

func NewLedgerCallError(method string, cause error) *LedgerCallError {
	return &LedgerCallError{Method: method, cause: cause}
}

func (e *LedgerCallError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", ErrLedgerCallFailed.Error(), e.Method)
	if e.Failure != nil {
		fmt.Fprintf(&b, ": %s", e.Failure.Error())
	}
	for _, f := range e.ReceiptFailures {
		fmt.Fprintf(&b, "; receipt: %s", f.Error())
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

func (e *LedgerCallError) Unwrap() []error {
	errs := []error{ErrLedgerCallFailed}
	if e.cause != nil {
		errs = append(errs, e.cause)
	}
	if e.Failure != nil {
		errs = append(errs, e.Failure)
	} else if len(e.ReceiptFailures) > 0 {
		errs = append(errs, &e.ReceiptFailures[0])
	}
	return errs
}

// IsValidationError reports whether err is a local, expected failure of the
// staking state machine rather than a transport or ledger fault.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInsufficientUnstakedBalance,
		ErrInsufficientStakedBalance,
		ErrWithdrawalLocked,
		ErrNothingToClaim,
		ErrUnknownFarm,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
