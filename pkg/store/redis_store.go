// contentrex/pkg/store/redis_store.go

package store

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"rgehrsitz/contentrex/pkg/compiler"
	"rgehrsitz/contentrex/pkg/logging"
	"rgehrsitz/contentrex/pkg/validator"
)

const (
	DefaultKeyPrefix = "contentrex:extension:"
	DefaultChannel   = "contentrex:updates"
)

// RedisStore keeps each extension as one encoded value and announces changes
// on a pub/sub channel. The message payload is the extension identifier.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	channel   string
}

// NewRedisStore connects to the Redis server at addr. An empty channel uses
// DefaultChannel.
func NewRedisStore(ctx context.Context, addr, password string, db int, channel string) (*RedisStore, error) {
	logging.Logger.Info().Str("addr", addr).Int("db", db).Msg("Connecting to Redis")

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, storeError("failed to connect to Redis", err, map[string]interface{}{"addr": addr})
	}

	logging.Logger.Info().Msg("Successfully connected to Redis")
	return newRedisStore(client, channel), nil
}

func newRedisStore(client *redis.Client, channel string) *RedisStore {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisStore{client: client, keyPrefix: DefaultKeyPrefix, channel: channel}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

// SaveExtension stores ext under id and publishes id, atomically.
func (s *RedisStore) SaveExtension(ctx context.Context, id string, ext *compiler.CompiledExtension) error {
	if err := validator.ValidateExtension(ext); err != nil {
		return storeError("refusing to save invalid content extension", err, map[string]interface{}{"id": id})
	}
	data, err := compiler.Encode(ext)
	if err != nil {
		return storeError("failed to encode content extension", err, map[string]interface{}{"id": id})
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(id), data, 0)
		pipe.Publish(ctx, s.channel, id)
		return nil
	})
	if err != nil {
		return storeError("failed to save content extension", err, map[string]interface{}{"id": id})
	}

	logging.Logger.Info().Str("id", id).Int("bytes", len(data)).Str("channel", s.channel).Msg("Saved content extension")
	return nil
}

func (s *RedisStore) LoadExtension(ctx context.Context, id string) (*compiler.CompiledExtension, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		logging.Logger.Debug().Str("id", id).Msg("Content extension not found in Redis")
		return nil, ErrNotFound
	} else if err != nil {
		return nil, storeError("failed to load content extension", err, map[string]interface{}{"id": id})
	}

	ext, err := compiler.Decode(data)
	if err != nil {
		return nil, storeError("stored content extension is corrupt", err, map[string]interface{}{"id": id})
	}
	return ext, nil
}

// ListExtensions returns the identifiers of all stored extensions, in SCAN
// order.
func (s *RedisStore) ListExtensions(ctx context.Context) ([]string, error) {
	var ids []string
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, storeError("failed to list content extensions", err, nil)
	}
	return ids, nil
}

func (s *RedisStore) DeleteExtension(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return storeError("failed to delete content extension", err, map[string]interface{}{"id": id})
	}
	if removed == 0 {
		return ErrNotFound
	}
	return s.client.Publish(ctx, s.channel, id).Err()
}

// Subscribe returns the identifiers of extensions saved or deleted from now
// on. The channel closes when ctx is done.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan string, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Wait for the subscription to be confirmed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, storeError("failed to subscribe to content extension updates", err, map[string]interface{}{"channel": s.channel})
	}
	logging.Logger.Info().Str("channel", s.channel).Msg("Subscribed to content extension updates")

	ids := make(chan string)
	go func() {
		defer close(ids)
		defer pubsub.Close()
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				select {
				case ids <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ids, nil
}

func storeError(message string, err error, fields map[string]interface{}) error {
	ruleErr := logging.NewError(logging.ErrorTypeStore, message, err, fields)
	logging.LogError(logging.Logger, ruleErr)
	return ruleErr
}
