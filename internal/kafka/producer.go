package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/trogers1052/stock-backtester/internal/runner"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes run events to Kafka. Messages are keyed by run name so
// the events of one run stay ordered within a partition.
type Producer struct {
	writer messageWriter
	topic  string
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}
}

// RunObserver returns an observer that publishes every trade and net-worth
// point of the named run
func (p *Producer) RunObserver(runName string) runner.Observer {
	return &runEvents{producer: p, runName: runName}
}

// PublishRunCompleted publishes the summary of a finished run
func (p *Producer) PublishRunCompleted(ctx context.Context, summary *models.RunSummary) error {
	return p.publish(ctx, models.RunEvent{
		EventType: models.EventRunCompleted,
		RunName:   summary.Name,
		Summary:   summary,
		Timestamp: time.Now(),
	})
}

// PublishRunRequested queues a run for the request consumer
func (p *Producer) PublishRunRequested(ctx context.Context, req *models.RunRequest) error {
	return p.publish(ctx, models.RunEvent{
		EventType: models.EventRunRequested,
		RunName:   req.Name,
		Request:   req,
		Timestamp: time.Now(),
	})
}

func (p *Producer) publish(ctx context.Context, event models.RunEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.RunName),
		Value: data,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	return nil
}

// Close closes the Kafka producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

type runEvents struct {
	producer *Producer
	runName  string
}

func (e *runEvents) OnTrade(ctx context.Context, trade models.TradeLogEntry) error {
	return e.producer.publish(ctx, models.RunEvent{
		EventType: models.EventTradeExecuted,
		RunName:   e.runName,
		Trade:     &trade,
		Timestamp: time.Now(),
	})
}

func (e *runEvents) OnNetWorth(ctx context.Context, point models.NetWorthPoint) error {
	return e.producer.publish(ctx, models.RunEvent{
		EventType: models.EventNetWorthRecorded,
		RunName:   e.runName,
		NetWorth:  &point,
		Timestamp: time.Now(),
	})
}
