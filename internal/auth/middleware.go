package auth

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// Actions a signed request may authorize. Each mutating route demands its
// own action, so a signature captured for one cannot drive another.
const (
	ActionRedeem  = "redeem"
	ActionDisable = "disable"
	ActionEnable  = "enable"
)

// WalletKey is the gin context key holding the authenticated address.
const WalletKey = "wallet_address"

// SignedRequest is the JSON payload inside X-Signed-Message (fields sorted).
type SignedRequest struct {
	Action    string `json:"action"`
	ExpiresAt int64  `json:"expires_at"`
	Nonce     string `json:"nonce"`
}

const (
	maxFutureWindow = 5 * time.Minute
	nonceKeyPrefix  = "auth:nonce:"
)

// Middleware validates EIP-191 wallet signatures for one action. On success
// the recovered address is stored under WalletKey.
func Middleware(rdb *redis.Client, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet, err := authenticate(c, rdb, action)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, errNonceStore) {
				status = http.StatusInternalServerError
			}
			c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
			return
		}
		c.Set(WalletKey, wallet)
		c.Next()
	}
}

var errNonceStore = errors.New("internal error")

func authenticate(c *gin.Context, rdb *redis.Client, action string) (common.Address, error) {
	walletAddr := c.GetHeader("X-Wallet-Address")
	signedMsgB64 := c.GetHeader("X-Signed-Message")
	sigHex := c.GetHeader("X-Wallet-Signature")
	switch {
	case walletAddr == "" || signedMsgB64 == "" || sigHex == "":
		return common.Address{}, errors.New("missing auth headers")
	case !common.IsHexAddress(walletAddr):
		return common.Address{}, errors.New("invalid wallet address")
	}

	msgBytes, err := base64.StdEncoding.DecodeString(signedMsgB64)
	if err != nil {
		return common.Address{}, errors.New("invalid X-Signed-Message encoding")
	}
	var req SignedRequest
	if err := json.Unmarshal(msgBytes, &req); err != nil {
		return common.Address{}, errors.New("invalid signed message JSON")
	}
	if req.Action != action {
		return common.Address{}, errors.New("wrong action for this route")
	}

	now := time.Now().Unix()
	switch {
	case req.ExpiresAt <= now:
		return common.Address{}, errors.New("request expired")
	case req.ExpiresAt > now+int64(maxFutureWindow.Seconds()):
		return common.Address{}, errors.New("expires_at too far in future")
	}

	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, errors.New("invalid signature hex")
	}
	recovered, err := Recover(msgBytes, sig)
	if err != nil || recovered != common.HexToAddress(walletAddr) {
		return common.Address{}, errors.New("invalid signature")
	}

	// Nonce dedup via Redis SET NX, expiring with the request window.
	ttl := time.Duration(req.ExpiresAt-now) * time.Second
	set, err := rdb.SetNX(c.Request.Context(), nonceKeyPrefix+req.Nonce, 1, ttl).Result()
	if err != nil {
		return common.Address{}, errNonceStore
	}
	if !set {
		return common.Address{}, errors.New("nonce already used")
	}
	return recovered, nil
}

// Wallet returns the authenticated address set by Middleware.
func Wallet(c *gin.Context) (common.Address, bool) {
	v, ok := c.Get(WalletKey)
	if !ok {
		return common.Address{}, false
	}
	addr, ok := v.(common.Address)
	return addr, ok
}
