package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

func TestPublishBatch_EncodesValues(t *testing.T) {
	w := &recordingWriter{}
	reg := prometheus.NewRegistry()
	p := newProducer(w, "gzip", reg)

	err := p.PublishBatch(context.Background(), "candles", []Message{
		{Key: []byte("a"), Value: map[string]int{"x": 1}},
		{Key: []byte("b"), Value: "raw"},
		{Key: []byte("c"), Value: []byte("bytes")},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 3)
	assert.Equal(t, `{"x":1}`, string(w.msgs[0].Value))
	assert.Equal(t, "raw", string(w.msgs[1].Value))
	assert.Equal(t, "candles", w.msgs[2].Topic)
	assert.Equal(t, 3.0, counterValue(t, reg, "histpull_kafka_producer_messages_total"))
}

func TestPublishBatch_WriteError(t *testing.T) {
	w := &recordingWriter{err: errors.New("leader not available")}
	reg := prometheus.NewRegistry()
	p := newProducer(w, "gzip", reg)

	err := p.Publish(context.Background(), "candles", []byte("k"), "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "leader not available")
	assert.Equal(t, 1.0, counterValue(t, reg, "histpull_kafka_producer_errors_total"))
}

func TestPublishBatch_Empty(t *testing.T) {
	w := &recordingWriter{}
	p := newProducer(w, "gzip", nil)
	require.NoError(t, p.PublishBatch(context.Background(), "candles", nil))
	assert.Empty(t, w.msgs)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.EqualError(t, err, "brokers are required")
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}
