package repository

import (
	"context"
	"fmt"

	"HistPull/internal/domain/models"
	drepo "HistPull/internal/domain/repository"
	pkgkafka "HistPull/pkg/kafka"
)

type batchPublisher interface {
	PublishBatch(ctx context.Context, topic string, messages []pkgkafka.Message) error
	Close() error
}

// KafkaCandlePublisher emits one message per candle keyed by symbol|timeframe|month.
// Consumers dedup on key and ts.
type KafkaCandlePublisher struct {
	producer batchPublisher
	topic    string
}

// NewKafkaCandlePublisher creates the Kafka sink.
func NewKafkaCandlePublisher(producer batchPublisher, topic string) *KafkaCandlePublisher {
	return &KafkaCandlePublisher{producer: producer, topic: topic}
}

var _ drepo.CandleSink = (*KafkaCandlePublisher)(nil)

type candleMessage struct {
	Symbol    string  `json:"symbol"`
	Timeframe string  `json:"timeframe"`
	Ts        int64   `json:"ts"`
	Open      float64 `json:"o"`
	High      float64 `json:"h"`
	Low       float64 `json:"l"`
	Close     float64 `json:"c"`
	Volume    float64 `json:"v"`
}

func (p *KafkaCandlePublisher) StoreBatch(ctx context.Context, batch models.CandleBatch) error {
	if len(batch.Candles) == 0 {
		return nil
	}
	key := []byte(batch.Symbol + "|" + string(batch.Timeframe) + "|" + batch.Month)
	msgs := make([]pkgkafka.Message, len(batch.Candles))
	for i, c := range batch.Candles {
		msgs[i] = pkgkafka.Message{
			Key: key,
			Value: candleMessage{
				Symbol:    batch.Symbol,
				Timeframe: string(batch.Timeframe),
				Ts:        c.Time.Unix(),
				Open:      c.Open,
				High:      c.High,
				Low:       c.Low,
				Close:     c.Close,
				Volume:    c.Volume,
			},
		}
	}
	if err := p.producer.PublishBatch(ctx, p.topic, msgs); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

func (p *KafkaCandlePublisher) Health(context.Context) error {
	return nil
}

func (p *KafkaCandlePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
