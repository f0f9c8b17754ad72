// Package server is the HTTP surface: synchronous and queued redemption,
// revocation, and ledger reads.
package server

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/deleguard/deleguard/internal/auth"
	"github.com/deleguard/deleguard/internal/delegation"
	"github.com/deleguard/deleguard/internal/engine"
	"github.com/deleguard/deleguard/internal/ledger"
	"github.com/deleguard/deleguard/internal/queue"
)

// Handler wires the API routes onto a Gin engine.
type Handler struct {
	mgr          *engine.Manager
	led          ledger.Ledger
	rdb          *redis.Client
	log          *zap.Logger
	authDisabled bool
}

func NewHandler(mgr *engine.Manager, led ledger.Ledger, rdb *redis.Client, log *zap.Logger, authDisabled bool) *Handler {
	return &Handler{mgr: mgr, led: led, rdb: rdb, log: log, authDisabled: authDisabled}
}

// RequestID tags every request, honoring a caller-provided X-Request-ID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Set("request_id", id)
		c.Next()
	}
}

func (h *Handler) Register(r *gin.Engine) {
	r.Use(RequestID())
	r.GET("/healthz", h.handleHealth)

	v1 := r.Group("/v1")
	v1.POST("/redeem", h.guard(auth.ActionRedeem), h.handleRedeem)
	v1.POST("/delegations/disable", h.guard(auth.ActionDisable), h.handleDisable)
	v1.POST("/delegations/enable", h.guard(auth.ActionEnable), h.handleEnable)
	v1.GET("/ledger/:asset/:principal", h.handleBalance)
}

// guard applies signature auth for one action unless auth is disabled.
func (h *Handler) guard(action string) gin.HandlerFunc {
	if h.authDisabled {
		return func(c *gin.Context) { c.Next() }
	}
	return auth.Middleware(h.rdb, action)
}

func (h *Handler) handleHealth(c *gin.Context) {
	if err := h.rdb.Ping(c.Request.Context()).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "redis unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ── redemption ───────────────────────────────────────────────────────────────

type redeemRequest struct {
	Redeemer common.Address            `json:"redeemer"`
	Contexts [][]delegation.Delegation `json:"permission_contexts"`
	Modes    []delegation.Mode         `json:"modes"`
	Payloads []hexutil.Bytes           `json:"executions"`
	Async    bool                      `json:"async"`
}

func (h *Handler) handleRedeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if wallet, ok := auth.Wallet(c); ok && wallet != req.Redeemer {
		c.JSON(http.StatusForbidden, gin.H{"error": "redeemer must be the authenticated wallet"})
		return
	}

	if req.Async {
		id, err := queue.Enqueue(c.Request.Context(), h.rdb, queue.Task{
			Redeemer: req.Redeemer,
			Contexts: req.Contexts,
			Modes:    req.Modes,
			Payloads: req.Payloads,
		})
		if err != nil {
			h.log.Error("enqueue redemption", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"task_id": id})
		return
	}

	payloads := make([][]byte, len(req.Payloads))
	for i, p := range req.Payloads {
		payloads[i] = p
	}
	if err := h.mgr.RedeemDelegations(c.Request.Context(), req.Redeemer, req.Contexts, req.Modes, payloads); err != nil {
		h.log.Info("redemption rejected",
			zap.String("redeemer", req.Redeemer.Hex()),
			zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "redeemed"})
}

// ── revocation ───────────────────────────────────────────────────────────────

type revocationRequest struct {
	Delegation delegation.Delegation `json:"delegation"`
	// Requester is honored only when auth is disabled; otherwise the
	// authenticated wallet is the requester.
	Requester common.Address `json:"requester"`
}

func (h *Handler) requester(c *gin.Context, fallback common.Address) common.Address {
	if wallet, ok := auth.Wallet(c); ok {
		return wallet
	}
	return fallback
}

func (h *Handler) handleDisable(c *gin.Context) {
	var req revocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	requester := h.requester(c, req.Requester)
	if err := h.mgr.DisableDelegation(c.Request.Context(), requester, &req.Delegation); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disabled", "hash": req.Delegation.Hash().Hex()})
}

func (h *Handler) handleEnable(c *gin.Context) {
	var req revocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	requester := h.requester(c, req.Requester)
	if err := h.mgr.EnableDelegation(c.Request.Context(), requester, &req.Delegation); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "enabled", "hash": req.Delegation.Hash().Hex()})
}

// ── ledger ───────────────────────────────────────────────────────────────────

func (h *Handler) handleBalance(c *gin.Context) {
	assetHex := c.Param("asset")
	principalHex := c.Param("principal")
	if !common.IsHexAddress(assetHex) || !common.IsHexAddress(principalHex) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	asset := common.HexToAddress(assetHex)
	principal := common.HexToAddress(principalHex)

	bal, err := h.led.BalanceOf(c.Request.Context(), asset, principal)
	if err != nil {
		h.log.Error("balance read", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"asset":     asset.Hex(),
		"principal": principal.Hex(),
		"balance":   bal.String(),
	})
}
