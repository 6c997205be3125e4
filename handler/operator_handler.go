package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/service"
	"github.com/hexresearch/hexstody-sub000/state"
)

// OperatorHandler serves the operator API. Every route sits behind
// SignatureMiddleware.
type OperatorHandler struct {
	svc *service.OperatorService
}

func NewOperatorHandler(svc *service.OperatorService) *OperatorHandler {
	return &OperatorHandler{svc: svc}
}

func (h *OperatorHandler) Register(g gin.IRoutes) {
	g.GET("/request", h.ListRequests)
	g.POST("/request", h.CreateRequest)
	g.POST("/confirm", h.decideWithdrawal(state.Confirm))
	g.POST("/reject", h.decideWithdrawal(state.Reject))
	g.POST("/hotbalance", h.HotBalance)
	g.POST("/invite/generate", h.GenInvite)
	g.GET("/invite/listmy", h.ListInvites)
	g.GET("/changes", h.ListLimitChanges)
	g.POST("/limits/confirm", h.decideLimit(state.Confirm))
	g.POST("/limits/reject", h.decideLimit(state.Reject))
	g.GET("/exchange", h.ListExchanges)
	g.POST("/exchange/confirm", h.decideExchange(state.Confirm))
	g.POST("/exchange/reject", h.decideExchange(state.Reject))
	g.POST("/exchange/address", h.SetExchangeAddress)
	g.GET("/thresholds", h.Thresholds)
}

// GET /request
func (h *OperatorHandler) ListRequests(c *gin.Context) {
	list := h.svc.Withdrawals()
	if list == nil {
		list = []*model.WithdrawalRequest{}
	}
	c.JSON(http.StatusOK, list)
}

type createRequestBody struct {
	ID       string `json:"id"`
	User     string `json:"user" binding:"required"`
	Currency string `json:"currency" binding:"required"`
	Address  string `json:"address" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
	Fee      string `json:"fee"`
}

// POST /request
func (h *OperatorHandler) CreateRequest(c *gin.Context) {
	var req createRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	cur, err := findCurrency(req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	amount, err := ParseAmount(cur, req.Amount)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}
	var fee int64
	if req.Fee != "" {
		if fee, err = ParseAmount(cur, req.Fee); err != nil {
			writeError(c, badRequest(err))
			return
		}
	}
	info := state.WithdrawalRequestInfo{
		ID:      req.ID,
		User:    req.User,
		Address: model.CurrencyAddress{Currency: cur, Address: req.Address},
		Amount:  amount,
		Fee:     fee,
	}
	id, err := h.svc.CreateWithdrawal(c.Request.Context(), info)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *OperatorHandler) decideWithdrawal(kind state.DecisionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d service.ConfirmationData
		if err := c.ShouldBindJSON(&d); err != nil {
			writeError(c, badRequest(err))
			return
		}
		if _, err := h.svc.DecideWithdrawal(c.Request.Context(), d, kind, operatorSignature(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": d.ID, "decision": kind})
	}
}

type currencyBody struct {
	Currency string `json:"currency" binding:"required"`
}

// POST /hotbalance
func (h *OperatorHandler) HotBalance(c *gin.Context) {
	var req currencyBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	bal, err := h.svc.HotBalance(c.Request.Context(), req.Currency)
	if err != nil {
		writeError(c, err)
		return
	}
	cur, _ := model.FindCurrency(req.Currency)
	c.JSON(http.StatusOK, gin.H{"currency": cur.Ticker(), "balance": bal, "display": FormatAmount(cur, bal)})
}

// POST /invite/generate
func (h *OperatorHandler) GenInvite(c *gin.Context) {
	var req struct {
		Label string `json:"label"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	inv, err := h.svc.GenInvite(c.Request.Context(), operatorSignature(c).PublicKey, req.Label)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// GET /invite/listmy
func (h *OperatorHandler) ListInvites(c *gin.Context) {
	list := h.svc.Invites(operatorSignature(c).PublicKey)
	if list == nil {
		list = []model.InviteRecord{}
	}
	c.JSON(http.StatusOK, list)
}

// GET /changes
func (h *OperatorHandler) ListLimitChanges(c *gin.Context) {
	list := h.svc.LimitChanges()
	if list == nil {
		list = []*model.LimitChangeRequest{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *OperatorHandler) decideLimit(kind state.DecisionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d service.CurrencyDecision
		if err := c.ShouldBindJSON(&d); err != nil {
			writeError(c, badRequest(err))
			return
		}
		if err := h.svc.DecideLimit(c.Request.Context(), d, kind, operatorSignature(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": d.ID, "decision": kind})
	}
}

// GET /exchange
func (h *OperatorHandler) ListExchanges(c *gin.Context) {
	list := h.svc.Exchanges()
	if list == nil {
		list = []*model.ExchangeOrder{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *OperatorHandler) decideExchange(kind state.DecisionKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		var d service.CurrencyDecision
		if err := c.ShouldBindJSON(&d); err != nil {
			writeError(c, badRequest(err))
			return
		}
		if err := h.svc.DecideExchange(c.Request.Context(), d, kind, operatorSignature(c)); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": d.ID, "decision": kind})
	}
}

// POST /exchange/address
func (h *OperatorHandler) SetExchangeAddress(c *gin.Context) {
	var req struct {
		Currency string `json:"currency" binding:"required"`
		Address  string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := h.svc.SetExchangeAddress(c.Request.Context(), req.Currency, req.Address); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /thresholds
func (h *OperatorHandler) Thresholds(c *gin.Context) {
	t := h.svc.Thresholds()
	c.JSON(http.StatusOK, gin.H{"withdraw": t.Withdraw, "change_limit": t.ChangeLimit, "exchange": t.Exchange})
}
