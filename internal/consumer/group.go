package consumer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// GroupConfig describes the topics one consumer group reads.
type GroupConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

// RunGroup starts one processor per topic and blocks until ctx is cancelled
// and every processor has stopped.
func RunGroup(ctx context.Context, cfg GroupConfig, handler Handler, logger *zap.Logger) {
	var wg sync.WaitGroup
	for _, topic := range cfg.Topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.Brokers,
			GroupID:         cfg.GroupID,
			Topic:           topic,
			MinBytes:        1,
			MaxBytes:        1e6,
			CommitInterval:  time.Second,
			ReadLagInterval: -1,
		})
		log := logger.With(zap.String("topic", topic), zap.String("group", cfg.GroupID))
		proc := NewProcessor(reader, handler, WithLogger(log))

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			log.Info("consumer started")
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("consumer stopped", zap.Error(err))
			}
		}()
	}
	wg.Wait()
}
