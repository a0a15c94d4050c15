package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/cowsolver/internal/solver/application"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/logger"
	"github.com/wyfcoding/cowsolver/pkg/middleware"
	"github.com/wyfcoding/cowsolver/pkg/ratelimit"
)

const (
	// CallerHeader 调用方地址
	CallerHeader = "X-Caller-Address"
	callerKey    = "caller"
)

// SolverHandler HTTP 处理器
type SolverHandler struct {
	svc           *application.SolverService
	operatorToken string
	limiter       ratelimit.RateLimiter
	submitLimit   ratelimit.Limit
	logger        *slog.Logger
}

// Option 处理器可选配置
type Option func(*SolverHandler)

// WithOperatorToken operator 调用需额外携带 Bearer token
func WithOperatorToken(token string) Option {
	return func(h *SolverHandler) { h.operatorToken = token }
}

// WithSubmitLimit 按提交者限流
func WithSubmitLimit(limiter ratelimit.RateLimiter, limit ratelimit.Limit) Option {
	return func(h *SolverHandler) {
		h.limiter = limiter
		h.submitLimit = limit
	}
}

// NewSolverHandler 创建 HTTP 处理器
func NewSolverHandler(svc *application.SolverService, l *slog.Logger, opts ...Option) *SolverHandler {
	h := &SolverHandler{svc: svc, logger: l.With("module", "http_handler")}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes 注册路由
func (h *SolverHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		submit := []gin.HandlerFunc{h.SubmitIntent}
		if h.limiter != nil {
			submit = append([]gin.HandlerFunc{middleware.RateLimit(h.limiter, h.submitLimit, "submit", submitterKey, h.logger)}, submit...)
		}
		api.POST("/intents", submit...)
		api.GET("/queue", h.GetQueue)
		api.GET("/stats", h.GetStats)
		api.GET("/fees/:asset", h.GetFeeBalance)
		api.GET("/records", h.ListRecords)

		op := api.Group("", h.operatorAuth)
		op.POST("/intents/evict-expired", h.EvictExpired)
		op.POST("/trigger", h.Trigger)
		op.POST("/fees/:asset/withdraw", h.WithdrawFees)
	}
}

// submitterKey 优先按调用方地址限流，缺省时按 IP
func submitterKey(c *gin.Context) string {
	if caller := c.GetHeader(CallerHeader); caller != "" {
		return strings.ToLower(caller)
	}
	return middleware.ClientIPKey(c)
}

// operatorAuth 解析调用方身份；是否为 operator 由应用服务判断
func (h *SolverHandler) operatorAuth(c *gin.Context) {
	if h.operatorToken != "" {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(h.operatorToken)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid bearer token"})
			return
		}
	}
	caller, err := application.ParseAddress(c.GetHeader(CallerHeader))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed " + CallerHeader})
		return
	}
	c.Set(callerKey, caller)
	c.Next()
}

func callerFrom(c *gin.Context) common.Address {
	v, _ := c.Get(callerKey)
	addr, _ := v.(common.Address)
	return addr
}

// SubmitIntent 提交意图
func (h *SolverHandler) SubmitIntent(c *gin.Context) {
	var req application.SubmitIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dto, err := h.svc.Submit(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto)
}

// Trigger 触发结算
func (h *SolverHandler) Trigger(c *gin.Context) {
	res, err := h.svc.Trigger(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// WithdrawFees 提取手续费
func (h *SolverHandler) WithdrawFees(c *gin.Context) {
	asset, err := application.ParseAddress(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.WithdrawFees(c.Request.Context(), callerFrom(c), asset)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// EvictExpired 清理过期意图
func (h *SolverHandler) EvictExpired(c *gin.Context) {
	evicted, err := h.svc.EvictExpired(c.Request.Context(), callerFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": evicted})
}

func (h *SolverHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Queue())
}

func (h *SolverHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats())
}

func (h *SolverHandler) GetFeeBalance(c *gin.Context) {
	asset, err := application.ParseAddress(c.Param("asset"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.svc.FeeBalance(asset))
}

// ListRecords 按版本补拉结算记录，?after_version=&limit=
func (h *SolverHandler) ListRecords(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after_version", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid after_version"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	records, err := h.svc.Records(c.Request.Context(), after, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (h *SolverHandler) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	ctx := c.Request.Context()
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "request_id": logger.RequestID(ctx)})
}

// StatusFor 领域错误到 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidIntent),
		errors.Is(err, domain.ErrExpiredAuthorization),
		errors.Is(err, domain.ErrInvalidAuthorization):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientSwapOutput),
		errors.Is(err, domain.ErrTriggerBusy),
		errors.Is(err, domain.ErrUnknownVenue),
		errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict
	case errors.Is(err, application.ErrRecordLogUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
