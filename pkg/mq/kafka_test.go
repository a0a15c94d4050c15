package mq

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	sent []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.sent = append(w.sent, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	queue     []kafka.Message
	committed []int64
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSendMessagesEncodesJSON(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, logger: quiet()}

	err := p.SendMessages(context.Background(), "t", Message{Key: "k1", Value: map[string]int{"a": 1}})
	require.NoError(t, err)
	require.Len(t, w.sent, 1)
	assert.Equal(t, "t", w.sent[0].Topic)
	assert.Equal(t, "k1", string(w.sent[0].Key))
	assert.JSONEq(t, `{"a":1}`, string(w.sent[0].Value))

	require.NoError(t, p.SendMessages(context.Background(), "t"))
	assert.Len(t, w.sent, 1)
}

func TestConsumerRoutesFailuresToDeadLetter(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{
		{Topic: "in", Offset: 1, Key: []byte("ok"), Value: []byte(`{}`)},
		{Topic: "in", Offset: 2, Key: []byte("bad"), Value: []byte(`garbage`)},
	}}
	dlqWriter := &fakeWriter{}
	c := &KafkaConsumer{
		reader:     r,
		deadLetter: NewDeadLetterQueue(&KafkaProducer{writer: dlqWriter, logger: quiet()}, "in.dlq"),
		logger:     quiet(),
	}

	handled := 0
	err := c.Run(context.Background(), func(_ context.Context, msg kafka.Message) error {
		handled++
		if string(msg.Key) == "bad" {
			return errors.New("cannot decode")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, handled)
	assert.Equal(t, []int64{1, 2}, r.committed)
	require.Len(t, dlqWriter.sent, 1)

	var body map[string]any
	require.NoError(t, json.Unmarshal(dlqWriter.sent[0].Value, &body))
	assert.Equal(t, "cannot decode", body["failure_error"])
	assert.Equal(t, "garbage", body["original_value"])
}

func TestConsumerStopsWithoutCommitWhenDeadLetterFails(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7, Key: []byte("bad")}}}
	c := &KafkaConsumer{
		reader:     r,
		deadLetter: NewDeadLetterQueue(&KafkaProducer{writer: &fakeWriter{err: errors.New("down")}, logger: quiet()}, "dlq"),
		logger:     quiet(),
	}

	err := c.Run(context.Background(), func(context.Context, kafka.Message) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Empty(t, r.committed)
}
