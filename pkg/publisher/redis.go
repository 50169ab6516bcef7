package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/NotCoffee418/iec62056_meter/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// historyLength is the number of readings kept per meter in the history list.
const historyLength = 1000

// RedisPublisher publishes readings on a pub/sub channel and keeps a
// bounded history list per meter.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	log     logrus.FieldLogger
}

func NewRedisPublisher(addr, password string, db int, channel string, log logrus.FieldLogger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}
	log.Infof("Connected to redis at %s, publishing on %s", addr, channel)

	return &RedisPublisher{client: client, channel: channel, log: log}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, reading *types.MeterReading) error {
	data, err := reading.ToJsonBytes()
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}

	key := historyKey(reading)
	pipe := p.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, historyLength-1)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.WithError(err).Warnf("Failed to append reading to %s", key)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func historyKey(reading *types.MeterReading) string {
	meter := reading.ManufacturerID + reading.Identification
	if meter == "" {
		meter = "unknown"
	}
	return fmt.Sprintf("iec62056:%s:readings", meter)
}
