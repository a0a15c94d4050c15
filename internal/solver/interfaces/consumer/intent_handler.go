package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"github.com/wyfcoding/cowsolver/internal/solver/application"
)

// IntentHandler 消费 intents topic 上的提交请求，处理失败的消息由消费循环转入死信队列
type IntentHandler struct {
	svc    *application.SolverService
	logger *slog.Logger
}

func NewIntentHandler(svc *application.SolverService, logger *slog.Logger) *IntentHandler {
	return &IntentHandler{svc: svc, logger: logger.With("module", "intent_consumer")}
}

func (h *IntentHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var req application.SubmitIntentRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		h.logger.ErrorContext(ctx, "failed to unmarshal intent message", "offset", msg.Offset, "error", err)
		return fmt.Errorf("decode intent: %w", err)
	}
	dto, err := h.svc.Submit(ctx, &req)
	if err != nil {
		return err
	}
	h.logger.DebugContext(ctx, "intent consumed", "intent_id", dto.ID, "partition", msg.Partition, "offset", msg.Offset)
	return nil
}
