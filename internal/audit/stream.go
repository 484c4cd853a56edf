package audit

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/alexbotov/betledger/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes events to a Kafka topic keyed by subject address.
// Writes block until acknowledged; wrap it in an AsyncSink on hot paths.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a writer for a comma-separated broker list
func NewKafkaSink(brokers, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}
}

func (k *KafkaSink) Write(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Subject),
		Value: payload,
		Time:  event.Timestamp,
	})
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

// RedisSink broadcasts events on a Redis pub/sub channel
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink wraps a connected client
func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

// ConnectRedis opens and pings a Redis client
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return rdb, nil
}

func (r *RedisSink) Write(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}
