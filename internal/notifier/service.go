package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/go-order-placement.git/internal/kafka"
	"github.com/ariefcatur/go-order-placement.git/internal/orders"
	"github.com/ariefcatur/go-order-placement.git/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// Service tails the order topics and keeps the redis status cache
// fresh. The cache is read-through only; the database stays the source
// of truth, so dropping an event here costs a cache miss at worst.
type Service struct {
	Redis       *redis.Client
	ServiceName string
}

func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// dedup on event_id so redeliveries are no-ops
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}
	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.cacheStatus(ctx, p.OrderID, string(orders.StatusPending))
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.cacheStatus(ctx, p.OrderID, string(orders.StatusCancelled))
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.cacheStatus(ctx, p.OrderID, p.Status)
	default:
		return nil // ignore
	}
}

func (s *Service) cacheStatus(ctx context.Context, orderID, status string) error {
	b, _ := json.Marshal(map[string]string{"status": status})
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	return s.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
}
