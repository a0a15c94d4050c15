package consumer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/application"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/ledger"
	"github.com/wyfcoding/cowsolver/internal/solver/infrastructure/persistence/memory"
	"github.com/wyfcoding/cowsolver/pkg/idgen"
	"github.com/wyfcoding/cowsolver/pkg/logger"
	"github.com/wyfcoding/cowsolver/pkg/metrics"
)

func newService(t *testing.T) *application.SolverService {
	t.Helper()
	store, err := domain.NewStore(context.Background(), memory.NewStateRepository())
	require.NoError(t, err)
	engine, err := domain.NewNettingEngine(domain.EngineConfig{
		Ledger:  ledger.NewMemoryLedger(nil, nil),
		Venues:  domain.Venues{},
		Store:   store,
		Fee:     domain.DefaultFeePolicy(),
		Custody: common.HexToAddress("0xcc"),
		Logger:  logger.Discard(),
	})
	require.NoError(t, err)
	ids, err := idgen.New(3)
	require.NoError(t, err)
	svc, err := application.NewSolverService(application.ServiceConfig{
		Queue:    domain.NewIntentQueue(engine),
		Engine:   engine,
		Store:    store,
		Operator: common.HexToAddress("0xdd"),
		IDs:      ids,
		Metrics:  metrics.New("consumer-test"),
		Logger:   logger.Discard(),
	})
	require.NoError(t, err)
	return svc
}

func message(t *testing.T, req application.SubmitIntentRequest) kafka.Message {
	t.Helper()
	b, err := json.Marshal(req)
	require.NoError(t, err)
	return kafka.Message{Topic: "solver.intents", Value: b}
}

func validRequest() application.SubmitIntentRequest {
	word := common.BytesToHash([]byte{1}).Hex()
	return application.SubmitIntentRequest{
		Submitter: common.HexToAddress("0xa1").Hex(),
		AssetSell: common.HexToAddress("0x01").Hex(),
		AssetBuy:  common.HexToAddress("0x02").Hex(),
		Venue:     common.HexToAddress("0xe1").Hex(),
		AmountIn:  decimal.NewFromInt(500).String(),
		Expiry:    time.Now().Add(time.Hour).Unix(),
		Authorization: application.AuthorizationDTO{
			V: 27, R: word, S: word,
		},
	}
}

func TestHandleSubmitsIntent(t *testing.T) {
	svc := newService(t)
	h := NewIntentHandler(svc, logger.Discard())

	require.NoError(t, h.Handle(context.Background(), message(t, validRequest())))
	assert.Equal(t, 1, svc.Queue().Pending)
}

func TestHandleRejectsBadMessages(t *testing.T) {
	svc := newService(t)
	h := NewIntentHandler(svc, logger.Discard())

	err := h.Handle(context.Background(), kafka.Message{Value: []byte("{not json")})
	assert.Error(t, err)

	req := validRequest()
	req.AmountIn = "-3"
	err = h.Handle(context.Background(), message(t, req))
	assert.ErrorIs(t, err, domain.ErrInvalidIntent)

	assert.Zero(t, svc.Queue().Pending)
}
