package api

import (
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wfunc/coin-hopper/internal/display"
	"github.com/wfunc/coin-hopper/internal/engine"
	apperrors "github.com/wfunc/coin-hopper/internal/errors"
	"github.com/wfunc/coin-hopper/internal/middleware"
)

// PayoutHandler 余额与出币处理器
type PayoutHandler struct {
	controller Controller
	display    *display.Manager
	logger     *zap.Logger
}

// NewPayoutHandler 创建出币处理器
func NewPayoutHandler(controller Controller, dm *display.Manager, logger *zap.Logger) *PayoutHandler {
	return &PayoutHandler{
		controller: controller,
		display:    dm,
		logger:     logger,
	}
}

// CreditResponse 余额响应
type CreditResponse struct {
	Balance      int64 `json:"balance"`
	DisplayValue int   `json:"display_value"`
}

// PayoutRequest 出币请求
type PayoutRequest struct {
	Amount *int64 `json:"amount" binding:"required"`
}

// PayoutAccepted 出币受理响应
type PayoutAccepted struct {
	Ticket  *engine.PayoutTicket `json:"ticket"`
	Balance int64                `json:"balance"`
}

// GetCredit 查询余额
func (h *PayoutHandler) GetCredit(c *gin.Context) {
	balance := h.controller.Balance()
	c.JSON(http.StatusOK, CreditResponse{
		Balance:      balance,
		DisplayValue: h.display.Clamp(balance),
	})
}

// GetStatus 查询出币状态
func (h *PayoutHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.controller.Status())
}

// RequestPayout 发起出币
func (h *PayoutHandler) RequestPayout(c *gin.Context) {
	var req PayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, "amount is required"))
		return
	}

	amount := *req.Amount
	if amount < 0 || amount > math.MaxUint32 {
		respondError(c, apperrors.Newf(apperrors.ErrInvalidAmount, "amount %d out of range", amount))
		return
	}

	ticket, err := h.controller.RequestPayout(uint32(amount))
	if err != nil {
		respondError(c, err)
		return
	}

	subject, _ := middleware.GetSubject(c)
	h.logger.Info("出币请求已受理",
		zap.String("payout_id", ticket.ID),
		zap.Uint32("amount", ticket.Amount),
		zap.Uint32("target", ticket.Target),
		zap.String("operator", subject),
	)

	c.JSON(http.StatusAccepted, PayoutAccepted{
		Ticket:  ticket,
		Balance: h.controller.Balance(),
	})
}
