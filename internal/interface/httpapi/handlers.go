package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/engine"
	"github.com/flowswap/lp-node/internal/core/ports"
)

type initRequest struct {
	Direction         domain.Direction `json:"direction" binding:"required"`
	FromAmount        int64            `json:"from_amount" binding:"required"`
	ToAmount          int64            `json:"to_amount" binding:"required"`
	HUser             string           `json:"h_user" binding:"required"`
	UserRefundAddress string           `json:"user_refund_address" binding:"required"`
	UserPayoutAddress string           `json:"user_payout_address" binding:"required"`
}

func (s *Server) handleInit(c *gin.Context) {
	var req initRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	swap, err := s.engine.Init(reqContext(c), engine.InitParams{
		Direction:         req.Direction,
		FromAmount:        req.FromAmount,
		ToAmount:          req.ToAmount,
		HUser:             req.HUser,
		UserRefundAddress: req.UserRefundAddress,
		UserPayoutAddress: req.UserPayoutAddress,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, swap)
}

type initLegRequest struct {
	Direction         domain.Direction `json:"direction" binding:"required"`
	LegRole           domain.LegRole   `json:"leg_role" binding:"required"`
	PeerURL           string           `json:"peer_url"`
	FromAmount        int64            `json:"from_amount" binding:"required"`
	ToAmount          int64            `json:"to_amount" binding:"required"`
	HUser             string           `json:"h_user" binding:"required"`
	HLp1              string           `json:"h_lp1" binding:"required"`
	HLp2              string           `json:"h_lp2" binding:"required"`
	PeerM1Pubkey      string           `json:"peer_m1_pubkey"`
	UserRefundAddress string           `json:"user_refund_address"`
	UserPayoutAddress string           `json:"user_payout_address"`
}

func (s *Server) handleInitLeg(c *gin.Context) {
	var req initLegRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	swap, err := s.engine.InitLeg(reqContext(c), engine.InitLegParams{
		Direction:         req.Direction,
		LegRole:           req.LegRole,
		PeerURL:           req.PeerURL,
		FromAmount:        req.FromAmount,
		ToAmount:          req.ToAmount,
		HUser:             req.HUser,
		HLp1:              req.HLp1,
		HLp2:              req.HLp2,
		PeerM1Pubkey:      req.PeerM1Pubkey,
		UserRefundAddress: req.UserRefundAddress,
		UserPayoutAddress: req.UserPayoutAddress,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, swap)
}

func (s *Server) handleGet(c *gin.Context) {
	swap, err := s.repos.Swap().Get(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, swap)
}

func (s *Server) handleList(c *gin.Context) {
	state := c.Query("state")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
			return
		}
		limit = n
	}

	var (
		swaps []*domain.Swap
		err   error
	)
	if state != "" {
		swaps, err = s.repos.Swap().GetByState(domain.State(state))
	} else {
		swaps, err = s.repos.Swap().GetAll()
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if limit > 0 && limit < len(swaps) {
		swaps = swaps[:limit]
	}
	c.JSON(http.StatusOK, gin.H{"swaps": swaps})
}

type fundedRequest struct {
	TxID string `json:"txid" binding:"required"`
}

func (s *Server) handleBTCFunded(c *gin.Context) {
	var req fundedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.BTCFunded(reqContext(c), c.Param("id"), req.TxID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleUSDCFunded(c *gin.Context) {
	var req fundedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.USDCFunded(reqContext(c), c.Param("id"), req.TxID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type m1LockedRequest struct {
	Outpoint     string `json:"outpoint" binding:"required"`
	AmountSats   int64  `json:"amount_sats" binding:"required"`
	ExpiryHeight int64  `json:"expiry_height" binding:"required"`
}

func (s *Server) handleM1Locked(c *gin.Context) {
	var req m1LockedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.engine.PeerM1Locked(reqContext(c), c.Param("id"), ports.M1LockedPayload{
		Outpoint:     req.Outpoint,
		AmountSats:   req.AmountSats,
		ExpiryHeight: req.ExpiryHeight,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type btcClaimedRequest struct {
	ClaimTxID string `json:"claim_txid" binding:"required"`
	SUser     string `json:"s_user" binding:"required"`
	SLp1      string `json:"s_lp1" binding:"required"`
	SLp2      string `json:"s_lp2" binding:"required"`
}

func (s *Server) handleBTCClaimed(c *gin.Context) {
	var req btcClaimedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := s.engine.PeerBTCClaimed(reqContext(c), c.Param("id"), ports.BTCClaimedPayload{
		ClaimTxID: req.ClaimTxID,
		SUser:     req.SUser,
		SLp1:      req.SLp1,
		SLp2:      req.SLp2,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type forceFailRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (s *Server) handleForceFail(c *gin.Context) {
	var req forceFailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.engine.ForceFail(reqContext(c), c.Param("id"), req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleCleanupTerminal archives every terminal swap older than
// max_age_hours (default the configured archive grace period's
// conservative floor of 24h when unset).
func (s *Server) handleCleanupTerminal(c *gin.Context) {
	maxAgeHours := 24
	if raw := c.Query("max_age_hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "max_age_hours must be an integer"})
			return
		}
		maxAgeHours = n
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour).Unix()

	all, err := s.repos.Swap().GetAll()
	if err != nil {
		writeError(c, err)
		return
	}
	archived := 0
	for _, swap := range all {
		if !swap.State.IsTerminal() || swap.UpdatedAt > cutoff {
			continue
		}
		if err := s.repos.Swap().Archive(swap.SwapID); err != nil {
			writeError(c, err)
			return
		}
		archived++
	}
	c.JSON(http.StatusOK, gin.H{"archived": archived})
}
