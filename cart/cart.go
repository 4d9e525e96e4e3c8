package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-service/models"

	"github.com/redis/go-redis/v9"
)

// Item is one cart line with its price already resolved at add time.
type Item struct {
	ProductID      string                 `json:"product_id"`
	Quantity       int                    `json:"quantity"`
	UnitPrice      int64                  `json:"unit_price"`
	Customizations []models.Customization `json:"customizations,omitempty"`
}

type Cart struct {
	UserID    string    `json:"user_id"`
	Items     []Item    `json:"items"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Source reads and clears a user's cart.
type Source interface {
	GetItems(ctx context.Context, userID string) ([]Item, error)
	Clear(ctx context.Context, userID string) error
}

// RedisSource reads the carts the cart service keeps in Redis.
type RedisSource struct {
	client *redis.Client
}

func NewRedisSource(client *redis.Client) *RedisSource {
	return &RedisSource{client: client}
}

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func cartKey(userID string) string {
	return fmt.Sprintf("cart:user:%s", userID)
}

// GetItems returns nil without error when the user has no cart.
func (s *RedisSource) GetItems(ctx context.Context, userID string) ([]Item, error) {
	data, err := s.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	return decodeItems(data)
}

func (s *RedisSource) Clear(ctx context.Context, userID string) error {
	return s.client.Del(ctx, cartKey(userID)).Err()
}

func decodeItems(data []byte) ([]Item, error) {
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return c.Items, nil
}
