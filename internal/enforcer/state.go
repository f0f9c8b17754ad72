package enforcer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/redis/go-redis/v9"
)

// Amounts live in Redis as decimal strings. Hooks are synchronous within one
// redemption call, so read-modify-write without transactions is safe; the
// caller address in every key keeps tenants apart.

func readAmount(ctx context.Context, rdb *redis.Client, key string) (*big.Int, error) {
	val, err := rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("enforcer state read: %w", err)
	}
	n, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt enforcer state %q at %s", val, key)
	}
	return n, nil
}

func writeAmount(ctx context.Context, rdb *redis.Client, key string, v *big.Int) error {
	return rdb.Set(ctx, key, v.String(), 0).Err()
}
