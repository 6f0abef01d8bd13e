package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/internal/domain"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/config"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/logger"
	"github.com/q4ZAr/kiln-mid-back/staking-farm-service/pkg/metrics"
	"golang.org/x/time/rate"
)

// Client is a domain.Ledger backed by the ledger HTTP API. Reads are retried
// on transport errors, 5xx and 429. Mutating requests are sent once.
type Client struct {
	baseURL     string
	reads       *resty.Client
	writes      *resty.Client
	logger      *logger.Logger
	rateLimiter *rate.Limiter
}

func NewClient(cfg *config.Ledger, log *logger.Logger) *Client {
	reads := resty.New().
		SetTimeout(cfg.RequestTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelay).
		SetRetryMaxWaitTime(cfg.RetryDelay * 3).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500 || r.StatusCode() == 429
		})

	writes := resty.New().
		SetTimeout(cfg.RequestTimeout)

	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:     cfg.URL,
		reads:       reads,
		writes:      writes,
		logger:      log,
		rateLimiter: rate.NewLimiter(limit, burst),
	}
}

func (c *Client) do(ctx context.Context, client *resty.Client, method, path string, body, out interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	url := c.baseURL + path
	req := client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json")
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	resp, err := req.Execute(method, url)

	duration := time.Since(start).Seconds()
	success := err == nil && resp.StatusCode() == http.StatusOK
	metrics.RecordRPCRequest(duration, success)

	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return decodeError(resp)
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// decodeError maps an error body back onto the domain taxonomy.
func decodeError(resp *resty.Response) error {
	var body ErrorResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil || body.Error == "" {
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode(), string(resp.Body()))
	}
	if sentinel := domain.ErrorFromCode(body.Code); sentinel != nil {
		return fmt.Errorf("%w: %s", sentinel, body.Error)
	}
	return fmt.Errorf("unexpected status code: %d: %s", resp.StatusCode(), body.Error)
}

func (c *Client) Call(ctx context.Context, req domain.CallRequest) (*domain.ExecutionResult, error) {
	c.logger.Debugw("Sending call", "signer", req.Signer, "receiver", req.Receiver, "method", req.Method)

	var result domain.ExecutionResult
	if err := c.do(ctx, c.writes, http.MethodPost, PathCall, req, &result); err != nil {
		return nil, err
	}
	if result.Status == "" {
		return nil, errors.New("ledger returned a call result without status")
	}
	return &result, nil
}

func (c *Client) View(ctx context.Context, req domain.ViewRequest) (json.RawMessage, error) {
	var resp ViewResponse
	if err := c.do(ctx, c.reads, http.MethodPost, PathView, req, &resp); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

func (c *Client) Block(ctx context.Context) (domain.BlockInfo, error) {
	var block domain.BlockInfo
	err := c.do(ctx, c.reads, http.MethodGet, PathBlock, nil, &block)
	return block, err
}

func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	block, err := c.Block(ctx)
	if err != nil {
		return 0, err
	}
	return block.Epoch, nil
}

func (c *Client) AdvanceBlocks(ctx context.Context, n uint64) error {
	var resp FastForwardResponse
	if err := c.do(ctx, c.writes, http.MethodPost, PathFastForward, FastForwardRequest{Blocks: n}, &resp); err != nil {
		return err
	}
	c.logger.Debugw("Fast-forwarded", "blocks", n, "height", resp.Block.Height, "epoch", resp.Block.Epoch)
	return nil
}

var _ domain.Ledger = (*Client)(nil)
