package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/cowsolver/internal/solver/domain"
	"github.com/wyfcoding/cowsolver/pkg/mq"
)

type captureSender struct {
	topic string
	msgs  []mq.Message
	calls int
}

func (s *captureSender) SendMessages(_ context.Context, topic string, messages ...mq.Message) error {
	s.calls++
	s.topic = topic
	s.msgs = append(s.msgs, messages...)
	return nil
}

func TestPublishKeysAndEnvelope(t *testing.T) {
	sender := &captureSender{}
	p := NewKafkaRecordPublisher(sender, "solver.records")

	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	asset := common.HexToAddress("0x0000000000000000000000000000000000000001")
	ts := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), domain.SettlementLog{
		domain.ParticipantSettledEvent{BaseEvent: domain.BaseEvent{Timestamp: ts}, Submitter: user, AmountReceived: decimal.NewFromInt(5)},
		domain.BatchSettledEvent{BaseEvent: domain.BaseEvent{Timestamp: ts}, AssetLow: asset, AssetHigh: user},
		domain.FeesWithdrawnEvent{BaseEvent: domain.BaseEvent{Timestamp: ts}, Asset: asset},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sender.calls)
	assert.Equal(t, "solver.records", sender.topic)
	require.Len(t, sender.msgs, 3)
	assert.Equal(t, user.Hex(), sender.msgs[0].Key)
	assert.Contains(t, sender.msgs[1].Key, asset.Hex())
	assert.Equal(t, asset.Hex(), sender.msgs[2].Key)

	env, ok := sender.msgs[0].Value.(RecordEnvelope)
	require.True(t, ok)
	assert.Equal(t, domain.EventParticipantSettled, env.Type)
	assert.Equal(t, ts, env.OccurredAt)
}

func TestPublishEmptyLogSendsNothing(t *testing.T) {
	sender := &captureSender{}
	require.NoError(t, NewKafkaRecordPublisher(sender, "t").Publish(context.Background(), nil))
	assert.Zero(t, sender.calls)
}
