package sink

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"orderflow/internal/envelope"
	"orderflow/internal/model"
)

// RedisStore 는 로컬/self-hosted 배포용 keyed store.
// key = <prefix><orderId>, value = StoredItem JSON. TTL 없이 SET 하므로
// 재전달 시 마지막 write 가 남는다.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Key 는 orderId 의 Redis key.
func (s *RedisStore) Key(orderID string) string {
	return s.prefix + orderID
}

func (s *RedisStore) PutItem(ctx context.Context, item model.StoredItem) error {
	data, err := envelope.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	return s.client.Set(ctx, s.Key(item.OrderID), data, 0).Err()
}
