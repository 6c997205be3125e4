package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/service"
	"github.com/hexresearch/hexstody-sub000/state"
	"github.com/hexresearch/hexstody-sub000/user_service"
)

// WalletHandler serves the user API. Amounts travel as decimal strings in
// the currency's display unit.
type WalletHandler struct {
	svc   *service.WalletService
	users *user_service.Service
}

func NewWalletHandler(svc *service.WalletService, users *user_service.Service) *WalletHandler {
	return &WalletHandler{svc: svc, users: users}
}

// Register mounts the open routes on public and the session routes on
// authed.
func (h *WalletHandler) Register(public, authed gin.IRoutes) {
	public.POST("/signup", h.Signup)
	public.POST("/signin", h.Signin)

	authed.GET("/balance", h.GetBalance)
	authed.GET("/deposit/address", h.GetDepositAddress)
	authed.GET("/history", h.GetHistory)
	authed.GET("/fee", h.GetFee)
	authed.POST("/withdraw", h.Withdraw)
	authed.GET("/limits", h.GetLimits)
	authed.POST("/limits", h.RequestLimit)
	authed.POST("/limits/cancel", h.CancelLimit)
	authed.POST("/tokens/enable", h.updateToken(state.TokenEnable))
	authed.POST("/tokens/disable", h.updateToken(state.TokenDisable))
	authed.POST("/profile/language", h.SetLanguage)
	authed.POST("/profile/config", h.UpdateConfig)
	authed.POST("/profile/publickey", h.SetPublicKey)
	authed.POST("/exchange", h.Exchange)
}

// POST /signup
func (h *WalletHandler) Signup(c *gin.Context) {
	var req user_service.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	ctx := c.Request.Context()
	if err := h.users.Signup(ctx, &req); err != nil {
		writeError(c, err)
		return
	}
	if req.Email != nil || req.Phone != nil {
		if err := h.svc.UpdateConfig(ctx, state.ConfigUpdate{User: req.Username, Email: req.Email, Phone: req.Phone}); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": req.Username, "status": "created"})
}

// POST /signin
func (h *WalletHandler) Signin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	token, err := h.users.Signin(req.Username, req.Password)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type balanceView struct {
	Currency  string `json:"currency"`
	Total     string `json:"total"`
	Finalized string `json:"finalized"`
	Pending   string `json:"pending"`
	Reserved  string `json:"reserved"`
	Available string `json:"available"`
	// on-chain ERC-20 balance, tokens only
	Token string `json:"token,omitempty"`
}

// GET /balance
func (h *WalletHandler) GetBalance(c *gin.Context) {
	rows, err := h.svc.Balances(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]balanceView, 0, len(rows))
	for _, r := range rows {
		v := balanceView{
			Currency:  r.Currency.Ticker(),
			Total:     FormatAmount(r.Currency, r.Total),
			Finalized: FormatAmount(r.Currency, r.Finalized),
			Pending:   FormatAmount(r.Currency, r.Pending),
			Reserved:  FormatAmount(r.Currency, r.Reserved),
			Available: FormatAmount(r.Currency, r.Available),
		}
		if r.Token != nil {
			v.Token = r.Token.String()
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// GET /deposit/address?currency=BTC&fresh=true
func (h *WalletHandler) GetDepositAddress(c *gin.Context) {
	fresh, _ := strconv.ParseBool(c.Query("fresh"))
	addr, err := h.svc.DepositAddress(c.Request.Context(), currentUser(c), c.Query("currency"), fresh)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": addr.Currency.Ticker(), "address": addr.Address})
}

type historyView struct {
	Kind          service.HistoryKind `json:"kind"`
	Currency      string              `json:"currency"`
	Time          time.Time           `json:"time"`
	Amount        string              `json:"amount"`
	Txid          string              `json:"txid,omitempty"`
	Confirmations int64               `json:"confirmations"`
	Conflicted    bool                `json:"conflicted,omitempty"`
	RequestID     string              `json:"request_id,omitempty"`
	Status        string              `json:"status,omitempty"`
}

// GET /history?currency=BTC&limit=50
func (h *WalletHandler) GetHistory(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(c, badRequest(err))
			return
		}
		if n < 0 {
			writeError(c, badRequest(fmt.Errorf("negative limit %d", n)))
			return
		}
		limit = n
	}
	items, err := h.svc.History(currentUser(c), c.Query("currency"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]historyView, 0, len(items))
	for _, it := range items {
		v := historyView{
			Kind:          it.Kind,
			Currency:      it.Currency.Ticker(),
			Time:          it.Time,
			Amount:        FormatAmount(it.Currency, it.Amount),
			Txid:          it.Txid,
			Confirmations: it.Confirmations,
			Conflicted:    it.Conflicted,
		}
		if it.TokenValue != "" {
			v.Amount = it.TokenValue
		}
		if it.Request != nil {
			v.RequestID = it.Request.ID
			v.Status = string(it.Request.Status.Kind)
			if it.Request.Status.Completed != nil {
				v.Txid = it.Request.Status.Completed.Txid
			}
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// GET /fee?currency=BTC
func (h *WalletHandler) GetFee(c *gin.Context) {
	cur, err := findCurrency(c.Query("currency"))
	if err != nil {
		writeError(c, err)
		return
	}
	fee, err := h.svc.EstimateFee(c.Request.Context(), cur)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": cur.Ticker(), "fee": FormatAmount(cur, fee)})
}

func findCurrency(ticker string) (model.Currency, error) {
	cur, ok := model.FindCurrency(ticker)
	if !ok {
		return model.Currency{}, &state.FoldError{Kind: state.UnknownCurrency, Currency: ticker}
	}
	return cur, nil
}

// POST /withdraw
func (h *WalletHandler) Withdraw(c *gin.Context) {
	var req struct {
		Currency string `json:"currency" binding:"required"`
		Address  string `json:"address" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
	}
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
	r, err := h.svc.Withdraw(c.Request.Context(), currentUser(c), req.Currency, req.Address, amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           r.ID,
		"status":       r.Status.Kind,
		"request_type": r.RequestType,
		"amount":       FormatAmount(cur, r.Amount),
		"fee":          FormatAmount(cur, r.Fee),
	})
}

type limitView struct {
	Currency string          `json:"currency"`
	Amount   string          `json:"amount"`
	Span     model.LimitSpan `json:"span"`
	Spent    string          `json:"spent"`
	Pending  *pendingLimit   `json:"pending,omitempty"`
}

type pendingLimit struct {
	ID            string                      `json:"id"`
	Amount        string                      `json:"amount"`
	Span          model.LimitSpan             `json:"span"`
	Status        model.LimitChangeStatusKind `json:"status"`
	Confirmations int                         `json:"confirmations"`
	Rejections    int                         `json:"rejections"`
}

// GET /limits
func (h *WalletHandler) GetLimits(c *gin.Context) {
	rows, err := h.svc.Limits(currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]limitView, 0, len(rows))
	for _, r := range rows {
		v := limitView{
			Currency: r.Currency.Ticker(),
			Amount:   FormatAmount(r.Currency, r.Limit.Amount),
			Span:     r.Limit.Span,
			Spent:    FormatAmount(r.Currency, r.Spent),
		}
		if p := r.Pending; p != nil && p.IsOutstanding() {
			v.Pending = &pendingLimit{
				ID:            p.ID,
				Amount:        FormatAmount(r.Currency, p.Limit.Amount),
				Span:          p.Limit.Span,
				Status:        p.Status.Kind,
				Confirmations: len(p.Confirmations),
				Rejections:    len(p.Rejections),
			}
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, out)
}

// POST /limits
func (h *WalletHandler) RequestLimit(c *gin.Context) {
	var req struct {
		Currency string `json:"currency" binding:"required"`
		Amount   string `json:"amount" binding:"required"`
		Span     string `json:"span" binding:"required"`
	}
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
	span, err := model.ParseLimitSpan(req.Span)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}
	id, err := h.svc.RequestLimitChange(c.Request.Context(), currentUser(c), req.Currency, model.Limit{Amount: amount, Span: span})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// POST /limits/cancel
func (h *WalletHandler) CancelLimit(c *gin.Context) {
	var req currencyBody
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := h.svc.CancelLimitChange(c.Request.Context(), currentUser(c), req.Currency); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *WalletHandler) updateToken(action state.TokenAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req currencyBody
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, badRequest(err))
			return
		}
		if err := h.svc.UpdateToken(c.Request.Context(), currentUser(c), req.Currency, action); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"currency": req.Currency, "action": action})
	}
}

// POST /profile/language
func (h *WalletHandler) SetLanguage(c *gin.Context) {
	var req struct {
		Language string `json:"language" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := h.svc.SetLanguage(c.Request.Context(), currentUser(c), req.Language); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /profile/config
func (h *WalletHandler) UpdateConfig(c *gin.Context) {
	var req struct {
		Email *string `json:"email"`
		Phone *string `json:"phone"`
		Tg    *string `json:"tg"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	// empty strings clear the field
	if req.Email != nil && *req.Email != "" {
		if err := user_service.ValidateEmail(*req.Email); err != nil {
			writeError(c, err)
			return
		}
	}
	if req.Phone != nil && *req.Phone != "" {
		if err := user_service.ValidatePhone(*req.Phone); err != nil {
			writeError(c, err)
			return
		}
	}
	upd := state.ConfigUpdate{User: currentUser(c), Email: req.Email, Phone: req.Phone, Tg: req.Tg}
	if err := h.svc.UpdateConfig(c.Request.Context(), upd); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /profile/publickey
func (h *WalletHandler) SetPublicKey(c *gin.Context) {
	var req struct {
		PublicKey *string `json:"public_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	if err := h.svc.SetPublicKey(c.Request.Context(), currentUser(c), req.PublicKey); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// POST /exchange
func (h *WalletHandler) Exchange(c *gin.Context) {
	var req struct {
		From       string `json:"from" binding:"required"`
		To         string `json:"to" binding:"required"`
		AmountFrom string `json:"amount_from" binding:"required"`
		AmountTo   string `json:"amount_to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, badRequest(err))
		return
	}
	from, err := findCurrency(req.From)
	if err != nil {
		writeError(c, err)
		return
	}
	to, err := findCurrency(req.To)
	if err != nil {
		writeError(c, err)
		return
	}
	af, err := ParseAmount(from, req.AmountFrom)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}
	at, err := ParseAmount(to, req.AmountTo)
	if err != nil {
		writeError(c, badRequest(err))
		return
	}
	id, err := h.svc.Exchange(c.Request.Context(), currentUser(c), req.From, req.To, af, at)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}
