package database

import (
	"context"
	"fmt"
	"time"

	"chat_sync_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// CheckKafka dial the brokers until one answers, confirms the cluster is reachable
func CheckKafka(ctx context.Context, k KafkaConnection) error {
	var err error
	for attempt := 1; attempt <= k.RetryCount || attempt == 1; attempt++ {
		for _, broker := range k.Brokers {
			var conn *kafka.Conn
			conn, err = kafka.DialContext(ctx, "tcp", broker)
			if err == nil {
				conn.Close()
				return nil
			}
		}
		logger.Log.Warn("kafka dial failed, retrying...",
			zap.Int("attempt", attempt),
			zap.Strings("brokers", k.Brokers),
			zap.Error(err),
		)
		time.Sleep(k.RetryInterval * time.Second)
	}
	return fmt.Errorf("kafka unreachable after %d attempts: %w", k.RetryCount, err)
}
