package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis хранит настройки в hash и объявляет изменения в канал, в сообщении -
// изменённый ключ.
type Redis struct {
	*values
	client  *redis.Client
	hash    string
	channel string
	log     *zap.Logger
}

func NewRedis(client *redis.Client, hash string, log *zap.Logger) *Redis {
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		values:  newValues(),
		client:  client,
		hash:    hash,
		channel: hash + ":changed",
		log:     log,
	}
}

// Start загружает hash и слушает канал изменений до отмены ctx.
func (r *Redis) Start(ctx context.Context) error {
	all, err := r.client.HGetAll(ctx, r.hash).Result()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	for k, raw := range all {
		r.set(k, parseBool(raw))
	}

	sub := r.client.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.reload(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

// Set записывает значение и оповещает всех подписчиков, включая этот процесс.
func (r *Redis) Set(ctx context.Context, key string, val bool) error {
	if err := r.client.HSet(ctx, r.hash, key, strconv.FormatBool(val)).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return r.client.Publish(ctx, r.channel, key).Err()
}

func (r *Redis) reload(ctx context.Context, key string) {
	raw, err := r.client.HGet(ctx, r.hash, key).Result()
	if errors.Is(err, redis.Nil) {
		r.set(key, false)
		return
	}
	if err != nil {
		r.log.Warn("settings reload failed", zap.String("key", key), zap.Error(err))
		return
	}
	r.set(key, parseBool(raw))
}

func parseBool(s string) bool {
	v, err := strconv.ParseBool(s)
	return err == nil && v
}
