package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/infrastructure/rpc"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
)

// RunIDHeader groups journaled calls of one client run.
const RunIDHeader = "X-Run-ID"

type Handler struct {
	ledger    domain.Ledger
	journal   domain.JournalRepository
	contracts config.Contracts
	sessionID string
	logger    *logger.Logger
}

// NewHandler serves ledger over HTTP. journal may be nil.
func NewHandler(ledger domain.Ledger, journal domain.JournalRepository, contracts config.Contracts, logger *logger.Logger) *Handler {
	return &Handler{
		ledger:    ledger,
		journal:   journal,
		contracts: contracts,
		sessionID: uuid.New().String(),
		logger:    logger,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrUnknownMethod), errors.Is(err, domain.ErrUnknownFarm):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrAmountOverflow),
		errors.Is(err, domain.ErrInvalidFarm):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	resp := rpc.ErrorResponse{Error: err.Error()}
	if status != http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		resp.Code = domain.ErrorCode(err)
	}
	c.JSON(status, resp)
}

func (h *Handler) runID(c *gin.Context) string {
	if id := c.GetHeader(RunIDHeader); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return h.sessionID
}

func (h *Handler) PostCall(c *gin.Context) {
	var req domain.CallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Errorw("Invalid call request", "error", err)
		h.fail(c, invalidArgument(err))
		return
	}

	result, err := h.ledger.Call(c.Request.Context(), req)
	if err != nil {
		h.logger.Errorw("Call failed", "signer", req.Signer, "method", req.Method, "error", err)
		h.fail(c, err)
		return
	}

	h.journalCall(c, req, result)
	c.JSON(http.StatusOK, result)
}

func (h *Handler) journalCall(c *gin.Context, req domain.CallRequest, result *domain.ExecutionResult) {
	if h.journal == nil {
		return
	}

	entry := &domain.JournalEntry{
		RunID:    h.runID(c),
		Signer:   req.Signer,
		Receiver: req.Receiver,
		Method:   req.Method,
		Args:     string(req.Args),
		Deposit:  req.Deposit.String(),
		Status:   domain.StatusSuccess,
		GasBurnt: result.GasBurnt,
	}
	if err := result.Err(req.Method); err != nil {
		entry.Status = domain.StatusFailure
		entry.ErrorCode = domain.ErrorCode(err)
		entry.Error = err.Error()
	}
	if epoch, err := h.ledger.CurrentEpoch(c.Request.Context()); err == nil {
		entry.Epoch = epoch
	}

	// The call already happened; a journal failure must not fail the response.
	if err := h.journal.Save(c.Request.Context(), entry); err != nil {
		h.logger.Errorw("Failed to journal call", "method", req.Method, "error", err)
	}
}

func (h *Handler) PostView(c *gin.Context) {
	var req domain.ViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidArgument(err))
		return
	}

	raw, err := h.ledger.View(c.Request.Context(), req)
	if err != nil {
		h.logger.Debugw("View failed", "receiver", req.Receiver, "method", req.Method, "error", err)
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, rpc.ViewResponse{Result: raw})
}

func (h *Handler) GetBlock(c *gin.Context) {
	block, err := h.ledger.Block(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, block)
}

func (h *Handler) PostFastForward(c *gin.Context) {
	var req rpc.FastForwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, invalidArgument(err))
		return
	}

	ctx := c.Request.Context()
	if err := h.ledger.AdvanceBlocks(ctx, req.Blocks); err != nil {
		h.fail(c, err)
		return
	}
	block, err := h.ledger.Block(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}

	metrics.UpdateCurrentEpoch(block.Epoch)
	h.logger.Debugw("Fast-forwarded", "blocks", req.Blocks, "height", block.Height, "epoch", block.Epoch)
	c.JSON(http.StatusOK, rpc.FastForwardResponse{Block: block})
}

// GetAccount returns the farm view of an account together with the farm's
// own delegation on the validator.
func (h *Handler) GetAccount(c *gin.Context) {
	accountID := c.Param("account_id")
	ctx := c.Request.Context()

	var account, delegation domain.AccountView
	if err := h.view(ctx, h.contracts.FarmID, domain.AccountArgs{AccountID: accountID}, &account); err != nil {
		h.fail(c, err)
		return
	}
	if err := h.view(ctx, h.contracts.ValidatorID, domain.AccountArgs{AccountID: h.contracts.FarmID}, &delegation); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":    account,
		"delegation": delegation,
	})
}

func (h *Handler) view(ctx context.Context, receiver string, args domain.AccountArgs, out interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	result, err := h.ledger.View(ctx, domain.ViewRequest{Receiver: receiver, Method: domain.ViewGetAccount, Args: raw})
	if err != nil {
		return err
	}
	return json.Unmarshal(result, out)
}

func (h *Handler) GetPool(c *gin.Context) {
	raw, err := h.ledger.View(c.Request.Context(), domain.ViewRequest{Receiver: h.contracts.FarmID, Method: domain.ViewGetPoolSummary})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *Handler) GetJournal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, rpc.ErrorResponse{Error: "journal is disabled"})
		return
	}

	runID := c.Param("run_id")
	if _, err := uuid.Parse(runID); err != nil {
		c.JSON(http.StatusBadRequest, rpc.ErrorResponse{Error: "run_id must be a UUID", Code: domain.CodeInvalidArgument})
		return
	}

	entries, err := h.journal.FindByRun(c.Request.Context(), runID)
	if err != nil {
		h.logger.Errorw("Failed to read journal", "run_id", runID, "error", err)
		c.JSON(http.StatusInternalServerError, rpc.ErrorResponse{Error: "Failed to retrieve journal"})
		return
	}
	if entries == nil {
		entries = []domain.JournalEntry{}
	}

	c.JSON(http.StatusOK, gin.H{"data": entries})
}

func (h *Handler) GetHealth(c *gin.Context) {
	block, err := h.ledger.Block(c.Request.Context())
	if err != nil {
		h.logger.Errorw("Health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"height": block.Height,
		"epoch":  block.Epoch,
	})
}

func (h *Handler) GetReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if _, err := h.ledger.CurrentEpoch(ctx); err != nil {
		h.logger.Errorw("Readiness check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

func invalidArgument(err error) error {
	if errors.Is(err, domain.ErrInvalidAmount) || errors.Is(err, domain.ErrAmountOverflow) {
		return err
	}
	return errors.Join(domain.ErrInvalidArgument, err)
}
