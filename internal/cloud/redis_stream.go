package cloud

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"cropledger/internal/domain"
	applog "cropledger/internal/log"
)

// RedisStream carries committed cloud changes over Redis pub/sub, one
// channel per owner.
type RedisStream struct {
	rdb *redis.Client
}

func NewRedisStream(addr string) *RedisStream {
	return &RedisStream{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func channel(owner string) string { return "cropledger:changes:" + owner }

func (s *RedisStream) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStream) Publish(ctx context.Context, owner string, changes []domain.Change) error {
	for _, c := range changes {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if err := s.rdb.Publish(ctx, channel(owner), b).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return nil
}

// Subscribe returns once the subscription is confirmed. The channel closes
// when ctx ends or the connection drops.
func (s *RedisStream) Subscribe(ctx context.Context, owner string) (<-chan domain.Change, error) {
	ps := s.rdb.Subscribe(ctx, channel(owner))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	out := make(chan domain.Change, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c domain.Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					applog.Warn(nil, "cloud.stream.decode", err, map[string]any{"owner": owner})
					continue
				}
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *RedisStream) Close() error { return s.rdb.Close() }
