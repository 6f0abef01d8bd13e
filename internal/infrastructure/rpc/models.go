package rpc

import (
	"encoding/json"

	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
)

// Paths served by the ledger HTTP API.
const (
	PathCall        = "/v1/call"
	PathView        = "/v1/view"
	PathBlock       = "/v1/block"
	PathFastForward = "/v1/fast_forward"
)

// ErrorResponse is returned with any non-2xx status. Code is a wire code of
// the domain error taxonomy when the failure maps onto one.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type ViewResponse struct {
	Result json.RawMessage `json:"result"`
}

type FastForwardRequest struct {
	Blocks uint64 `json:"blocks" binding:"required,min=1"`
}

type FastForwardResponse struct {
	Block domain.BlockInfo `json:"block"`
}
