package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/trogers1052/stock-backtester/internal/models"
	"github.com/yanun0323/logs"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
	Config() kafka.ReaderConfig
}

// RunHandler executes a requested backtest
type RunHandler interface {
	Run(ctx context.Context, req *models.RunRequest) (*models.RunReport, error)
}

// RunRequestConsumer runs backtests requested over Kafka
type RunRequestConsumer struct {
	reader  messageReader
	handler RunHandler
}

// NewRunRequestConsumer creates a new Kafka consumer for run requests
func NewRunRequestConsumer(brokers []string, topic, groupID string, handler RunHandler) *RunRequestConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})

	return &RunRequestConsumer{
		reader:  reader,
		handler: handler,
	}
}

// Start consumes messages until ctx is cancelled. A request that fails is
// logged and skipped.
func (c *RunRequestConsumer) Start(ctx context.Context) error {
	logs.Infof("starting run request consumer for topic: %s", c.reader.Config().Topic)

	for {
		select {
		case <-ctx.Done():
			logs.Info("run request consumer shutting down")
			return c.reader.Close()
		default:
			msg, err := c.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return c.reader.Close()
				}
				logs.Errorf("error reading message: %v", err)
				continue
			}

			if err := c.processMessage(ctx, msg); err != nil {
				logs.Errorf("error processing message at partition %d offset %d: %v", msg.Partition, msg.Offset, err)
			}
		}
	}
}

func (c *RunRequestConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.RunEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal run event: %w", err)
	}

	if event.EventType != models.EventRunRequested {
		return nil
	}
	if event.Request == nil {
		return fmt.Errorf("run request %q has no payload", event.RunName)
	}
	if event.Request.Name == "" {
		event.Request.Name = event.RunName
	}

	report, err := c.handler.Run(ctx, event.Request)
	if err != nil {
		return fmt.Errorf("run %q failed: %w", event.Request.Name, err)
	}

	s := report.Summary
	logs.Infof("run %q (id %d) finished: %d sessions, %d trades, net worth %s",
		s.Name, s.ID, s.Sessions, s.TradeCount, s.FinalNetWorth.StringFixed(6))
	return nil
}

// Close closes the Kafka consumer
func (c *RunRequestConsumer) Close() error {
	return c.reader.Close()
}
