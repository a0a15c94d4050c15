// Package application 结算服务的用例：提交意图、触发结算、提取手续费与只读查询
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/idgen"
	"github.com/wyfcoding/cowsolver/pkg/logger"
	"github.com/wyfcoding/cowsolver/pkg/metrics"
)

// RecordPublisher 把结算记录投递到下游
type RecordPublisher interface {
	Publish(ctx context.Context, records domain.SettlementLog) error
}

// NoopPublisher 未启用 Kafka 时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, domain.SettlementLog) error { return nil }

// RecordReader 按版本读取已落库的记录
type RecordReader interface {
	Since(ctx context.Context, afterVersion uint64, limit int) (domain.SettlementLog, error)
}

// TriggerLock 多实例部署时的结算互斥锁
type TriggerLock interface {
	Acquire(ctx context.Context) (release func(context.Context), err error)
}

// ServiceConfig SolverService 的依赖
type ServiceConfig struct {
	Queue     *domain.IntentQueue
	Engine    *domain.NettingEngine
	Store     *domain.Store
	Operator  common.Address
	IDs       *idgen.Generator
	Publisher RecordPublisher
	Records   RecordReader
	// Lock 为空时只依赖进程内的单飞约束
	Lock          TriggerLock
	Metrics       *metrics.Metrics
	SettleTimeout time.Duration
	Logger        *slog.Logger
}

// SolverService 应用服务
// 负责 operator 鉴权、指标、记录投递，业务规则全部在领域层
type SolverService struct {
	queue         *domain.IntentQueue
	engine        *domain.NettingEngine
	store         *domain.Store
	operator      common.Address
	ids           *idgen.Generator
	publisher     RecordPublisher
	records       RecordReader
	lock          TriggerLock
	metrics       *metrics.Metrics
	settleTimeout time.Duration
	logger        *slog.Logger
}

// NewSolverService 创建应用服务
func NewSolverService(cfg ServiceConfig) (*SolverService, error) {
	if cfg.Queue == nil || cfg.Engine == nil || cfg.Store == nil {
		return nil, errors.New("queue, engine and store are required")
	}
	if cfg.Operator == domain.ZeroAddress {
		return nil, errors.New("operator address is required")
	}
	if cfg.IDs == nil || cfg.Metrics == nil {
		return nil, errors.New("id generator and metrics are required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	l := cfg.Logger
	if l == nil {
		l = logger.Get()
	}
	return &SolverService{
		queue:         cfg.Queue,
		engine:        cfg.Engine,
		store:         cfg.Store,
		operator:      cfg.Operator,
		ids:           cfg.IDs,
		publisher:     publisher,
		records:       cfg.Records,
		lock:          cfg.Lock,
		metrics:       cfg.Metrics,
		settleTimeout: cfg.SettleTimeout,
		logger:        l.With("module", "solver_service"),
	}, nil
}

// Operator 配置的 operator 地址
func (s *SolverService) Operator() common.Address {
	return s.operator
}

func (s *SolverService) authorize(caller common.Address) error {
	if caller != s.operator {
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// Submit 提交意图
// 1. 解析请求
// 2. 分配 ID，进入 intake
// 3. 投递 IntentAccepted
func (s *SolverService) Submit(ctx context.Context, req *SubmitIntentRequest) (*IntentDTO, error) {
	it, err := req.ToIntent()
	if err != nil {
		s.metrics.IntentsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, err
	}
	it.ID = s.ids.NextWithPrefix("intent")

	accepted, err := s.queue.Submit(it)
	if err != nil {
		s.metrics.IntentsRejected.WithLabelValues(rejectReason(err)).Inc()
		s.logger.DebugContext(ctx, "intent rejected", "submitter", it.Submitter.Hex(), "error", err)
		return nil, err
	}
	s.metrics.IntentsSubmitted.Inc()
	s.metrics.IntakeDepth.Set(float64(s.queue.Pending()))

	key, _ := accepted.Key()
	s.publish(ctx, domain.SettlementLog{domain.IntentAcceptedEvent{
		BaseEvent: domain.BaseEvent{Timestamp: accepted.AcceptedAt},
		IntentID:  accepted.ID,
		Submitter: accepted.Submitter,
		PairKey:   key,
	}})

	s.logger.InfoContext(ctx, "intent accepted", "intent_id", accepted.ID, "seq", accepted.Seq, "pair", key.String())
	return toIntentDTO(accepted), nil
}

// Trigger 结算 intake 中的全部意图。失败时不产生任何可观察的变化，调用方可直接重试。
func (s *SolverService) Trigger(ctx context.Context, caller common.Address) (*TriggerDTO, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		s.metrics.Triggers.WithLabelValues("busy").Inc()
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	if s.settleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settleTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := s.queue.Trigger(ctx)
	if err != nil {
		s.metrics.Triggers.WithLabelValues("failed").Inc()
		s.logger.ErrorContext(ctx, "trigger failed", "pending", s.queue.Pending(), "error", err)
		return nil, err
	}
	if res.Empty {
		s.metrics.Triggers.WithLabelValues("empty").Inc()
		return toTriggerDTO(res), nil
	}

	s.metrics.SettleDuration.Observe(time.Since(start).Seconds())
	s.metrics.Triggers.WithLabelValues("settled").Inc()
	batches := res.Records.BatchesSettled()
	s.metrics.BatchesSettled.Add(float64(len(batches)))
	s.metrics.ParticipantsPaid.Add(float64(len(res.Records.ParticipantsSettled())))
	for _, b := range batches {
		s.metrics.NetVolume.Add(b.Net.InexactFloat64())
	}
	s.metrics.IntakeDepth.Set(float64(s.queue.Pending()))

	s.publish(ctx, res.Records)

	s.logger.InfoContext(ctx, "trigger settled",
		"captured_slot", res.CapturedSlot,
		"intents", res.IntentCount,
		"batches", len(batches),
		"intake", res.IntakeHandle,
		"duration", time.Since(start),
	)
	return toTriggerDTO(res), nil
}

// WithdrawFees 把某资产的累计手续费转给 operator
func (s *SolverService) WithdrawFees(ctx context.Context, caller, asset common.Address) (*WithdrawalDTO, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))
	defer logger.LogDuration(ctx, s.logger, "withdraw fees finished", "asset", asset.Hex())()

	ev, err := s.engine.WithdrawFees(ctx, asset, s.operator)
	if err != nil {
		s.logger.ErrorContext(ctx, "withdraw fees failed", "asset", asset.Hex(), "error", err)
		return nil, err
	}
	if ev == nil {
		return &WithdrawalDTO{Asset: asset.Hex(), Amount: "0"}, nil
	}
	s.metrics.FeeWithdrawals.Inc()
	s.publish(ctx, domain.SettlementLog{*ev})
	return &WithdrawalDTO{Withdrawn: true, Asset: asset.Hex(), Amount: ev.Amount.String(), To: s.operator.Hex()}, nil
}

// EvictExpired 移除 intake 中已过期的意图
func (s *SolverService) EvictExpired(ctx context.Context, caller common.Address) ([]*IntentDTO, error) {
	if err := s.authorize(caller); err != nil {
		return nil, err
	}
	evicted, err := s.queue.EvictExpired(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*IntentDTO, 0, len(evicted))
	for _, it := range evicted {
		out = append(out, toIntentDTO(it))
	}
	if len(evicted) > 0 {
		s.metrics.IntentsEvicted.Add(float64(len(evicted)))
		s.metrics.IntakeDepth.Set(float64(s.queue.Pending()))
		s.logger.InfoContext(ctx, "expired intents evicted", "count", len(evicted))
	}
	return out, nil
}

func (s *SolverService) Queue() *QueueDTO {
	return &QueueDTO{
		IntakeHandle:  s.queue.IntakeHandle(),
		RetiredHandle: s.queue.RetiredHandle(),
		Pending:       s.queue.Pending(),
		RetiredSize:   s.queue.RetiredSize(),
	}
}

func (s *SolverService) Stats() *StatsDTO {
	return &StatsDTO{
		TotalSettlements: s.store.TotalSettlements(),
		TotalNetVolume:   s.store.TotalNetVolume().String(),
	}
}

func (s *SolverService) FeeBalance(asset common.Address) *FeeBalanceDTO {
	return &FeeBalanceDTO{Asset: asset.Hex(), Amount: s.store.FeeBalance(asset).String()}
}

const maxRecordPage = 500

// ErrRecordLogUnavailable 未配置 RecordReader
var ErrRecordLogUnavailable = errors.New("record log is not available")

// Records 读取 afterVersion 之后的结算记录，供下游补拉
func (s *SolverService) Records(ctx context.Context, afterVersion uint64, limit int) ([]*RecordDTO, error) {
	if s.records == nil {
		return nil, ErrRecordLogUnavailable
	}
	if limit <= 0 || limit > maxRecordPage {
		limit = maxRecordPage
	}
	log, err := s.records.Since(ctx, afterVersion, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*RecordDTO, 0, len(log))
	for _, r := range log {
		out = append(out, &RecordDTO{Type: r.EventType(), OccurredAt: r.OccurredAt(), Payload: r})
	}
	return out, nil
}

func (s *SolverService) acquire(ctx context.Context) (func(context.Context), error) {
	if s.lock == nil {
		return func(context.Context) {}, nil
	}
	return s.lock.Acquire(ctx)
}

// publish 投递失败只记录日志，记录已经落库，下游可按版本补拉
func (s *SolverService) publish(ctx context.Context, records domain.SettlementLog) {
	if err := s.publisher.Publish(ctx, records); err != nil {
		s.metrics.RecordsPublishErr.Add(float64(len(records)))
		s.logger.ErrorContext(ctx, "publish records failed", "count", len(records), "error", err)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrExpiredAuthorization):
		return "expired"
	case errors.Is(err, domain.ErrInvalidIntent):
		return "invalid"
	default:
		return "other"
	}
}
