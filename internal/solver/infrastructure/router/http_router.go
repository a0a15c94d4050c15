package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
)

// swapOrder 远程场所的下单请求
type swapOrder struct {
	Reference    string          `json:"reference"`
	AssetIn      common.Address  `json:"asset_in"`
	AssetOut     common.Address  `json:"asset_out"`
	AmountIn     decimal.Decimal `json:"amount_in"`
	MinAmountOut decimal.Decimal `json:"min_amount_out"`
	Recipient    common.Address  `json:"recipient"`
}

// swapFill 远程场所的成交回报。场所在本账本上的流动性账户由 Account 给出。
type swapFill struct {
	SwapID    string          `json:"swap_id"`
	AmountOut decimal.Decimal `json:"amount_out"`
	Account   common.Address  `json:"account"`
}

type venueError struct {
	Error string `json:"error"`
}

// HTTPRouter 通过 HTTP 向远程场所下单，资金在本地账本事务内与场所账户交收。
// 账本事务回滚时向场所发送撤单。
// 下单不重试：响应丢失时重发会在场所侧产生第二笔成交，而第一笔永远收不到撤单。
// 下单携带 Idempotency-Key（即 SwapRequest.Reference），场所按它去重，人工重放是安全的。
type HTTPRouter struct {
	orders  *resty.Client
	cancels *resty.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// HTTPRouterConfig 远程场所配置
type HTTPRouterConfig struct {
	Name     string
	Endpoint string
	Timeout  time.Duration
	// Retries 撤单请求的重试次数
	Retries int
}

// NewHTTPRouter 创建远程场所客户端
func NewHTTPRouter(cfg HTTPRouterConfig, logger *slog.Logger) *HTTPRouter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	orders := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	cancels := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(100 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json")

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "venue-" + cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		// 报价不足是业务结果，不计入熔断
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrInsufficientSwapOutput)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("venue circuit breaker state changed", "venue", name, "from", from.String(), "to", to.String())
		},
	})

	return &HTTPRouter{
		orders:  orders,
		cancels: cancels,
		breaker: breaker,
		logger:  logger.With("module", "http_router", "venue", cfg.Name),
	}
}

func (r *HTTPRouter) Swap(ctx context.Context, tx domain.LedgerTx, req domain.SwapRequest) (decimal.Decimal, error) {
	res, err := r.breaker.Execute(func() (interface{}, error) {
		return r.placeOrder(ctx, req)
	})
	if err != nil {
		return decimal.Zero, err
	}
	fill := res.(*swapFill)

	tx.OnRollback(func(ctx context.Context) {
		r.cancel(ctx, fill.SwapID)
	})

	if fill.AmountOut.LessThan(req.MinAmountOut) {
		return decimal.Zero, fmt.Errorf("%w: venue filled %s, min %s", domain.ErrInsufficientSwapOutput, fill.AmountOut, req.MinAmountOut)
	}
	if err := tx.Transfer(ctx, req.AssetIn, req.Recipient, fill.Account, req.AmountIn); err != nil {
		return decimal.Zero, fmt.Errorf("venue collect: %w", err)
	}
	if err := tx.Transfer(ctx, req.AssetOut, fill.Account, req.Recipient, fill.AmountOut); err != nil {
		return decimal.Zero, fmt.Errorf("venue pay: %w", err)
	}

	r.logger.InfoContext(ctx, "venue swap filled", "swap_id", fill.SwapID, "amount_in", req.AmountIn.String(), "amount_out", fill.AmountOut.String())
	return fill.AmountOut, nil
}

func (r *HTTPRouter) placeOrder(ctx context.Context, req domain.SwapRequest) (*swapFill, error) {
	var fill swapFill
	var verr venueError
	resp, err := r.orders.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", req.Reference).
		SetBody(swapOrder{
			Reference:    req.Reference,
			AssetIn:      req.AssetIn,
			AssetOut:     req.AssetOut,
			AmountIn:     req.AmountIn,
			MinAmountOut: req.MinAmountOut,
			Recipient:    req.Recipient,
		}).
		SetResult(&fill).
		SetError(&verr).
		Post("/v1/swaps")
	if err != nil {
		return nil, fmt.Errorf("venue request: %w", err)
	}
	if resp.IsError() {
		if resp.StatusCode() == http.StatusConflict {
			return nil, fmt.Errorf("%w: %s", domain.ErrInsufficientSwapOutput, verr.Error)
		}
		return nil, fmt.Errorf("venue returned %d: %s", resp.StatusCode(), verr.Error)
	}
	if fill.SwapID == "" || fill.Account == (common.Address{}) {
		return nil, errors.New("venue returned an incomplete fill")
	}
	return &fill, nil
}

// cancel 撤销已成交的远程订单，失败只记录日志，由场所侧对账处理
func (r *HTTPRouter) cancel(ctx context.Context, swapID string) {
	resp, err := r.cancels.R().
		SetContext(context.WithoutCancel(ctx)).
		SetPathParam("id", swapID).
		Post("/v1/swaps/{id}/cancel")
	if err != nil || resp.IsError() {
		status := 0
		if resp != nil {
			status = resp.StatusCode()
		}
		r.logger.ErrorContext(ctx, "venue swap cancel failed", "swap_id", swapID, "status", status, "error", err)
		return
	}
	r.logger.InfoContext(ctx, "venue swap cancelled", "swap_id", swapID)
}
