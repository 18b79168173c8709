package store

import (
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"

	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/config"
	"github.com/peerlink-dev/peerlink-go-chat-relay/internal/protocol"
)

// RedisStore keeps each recipient's queue in a Redis list at offline:<id>,
// the layout the original deployment used. RPUSH appends, LRANGE+DEL inside
// MULTI/EXEC gives the atomic drain.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Network:  "tcp",
		Addr:     cfg.Store.Redis.Addr,
		Password: cfg.Store.Redis.Password,
		DB:       cfg.Store.Redis.DB,
	})
	if err := client.Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("fail to reach redis at %s: %w", cfg.Store.Redis.Addr, err)
	}
	return &RedisStore{client: client}, nil
}

func offlineKey(recipient string) string {
	return "offline:" + recipient
}

func (rs *RedisStore) Append(recipient string, frame *protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if err := rs.client.RPush(offlineKey(recipient), data).Err(); err != nil {
		return fmt.Errorf("redis append failed: %w", err)
	}
	return nil
}

func (rs *RedisStore) Flush(recipient string) ([]*protocol.Frame, error) {
	key := offlineKey(recipient)

	pipe := rs.client.TxPipeline()
	rangeCmd := pipe.LRange(key, 0, -1)
	pipe.Del(key)
	if _, err := pipe.Exec(); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis flush failed: %w", err)
	}

	values := rangeCmd.Val()
	frames := make([]*protocol.Frame, 0, len(values))
	for _, value := range values {
		var f protocol.Frame
		if err := json.Unmarshal([]byte(value), &f); err != nil {
			return nil, fmt.Errorf("corrupt frame in redis queue %s: %w", key, err)
		}
		frames = append(frames, &f)
	}
	return frames, nil
}

func (rs *RedisStore) Requeue(recipient string, frames []*protocol.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	// LPUSH prepends argument by argument, so pushing in reverse keeps the
	// original order at the head of the list.
	values := make([]interface{}, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		data, err := json.Marshal(frames[i])
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	if err := rs.client.LPush(offlineKey(recipient), values...).Err(); err != nil {
		return fmt.Errorf("redis requeue failed: %w", err)
	}
	return nil
}

func (rs *RedisStore) Pending(recipient string) (bool, error) {
	n, err := rs.client.Exists(offlineKey(recipient)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (rs *RedisStore) Close() error {
	return rs.client.Close()
}
