// cmd/checkbal/main.go — prints a ledger balance straight from Redis.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/deleguard/deleguard/internal/ledger"
)

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address")
	assetHex := flag.String("asset", common.Address{}.Hex(), "asset address (default: base asset)")
	principalHex := flag.String("principal", "", "principal address (required)")
	flag.Parse()

	if *principalHex == "" || !common.IsHexAddress(*principalHex) {
		fmt.Fprintln(os.Stderr, "error: --principal is required and must be an address")
		os.Exit(1)
	}
	if !common.IsHexAddress(*assetHex) {
		fmt.Fprintln(os.Stderr, "error: --asset must be an address")
		os.Exit(1)
	}

	ctx := context.Background()
	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
	led := ledger.NewRedis(rdb)

	bal, err := led.BalanceOf(ctx, common.HexToAddress(*assetHex), common.HexToAddress(*principalHex))
	if err != nil {
		fmt.Fprintf(os.Stderr, "balance: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("asset:     %s\n", common.HexToAddress(*assetHex).Hex())
	fmt.Printf("principal: %s\n", common.HexToAddress(*principalHex).Hex())
	fmt.Printf("balance:   %s\n", bal)
}
