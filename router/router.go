package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hexresearch/hexstody-sub000/handler"
	"github.com/hexresearch/hexstody-sub000/signature"
	"github.com/hexresearch/hexstody-sub000/user_service"
)

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("error", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}

func newEngine(logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger(logger), gin.Recovery())
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return r
}

// NewPublicRouter serves the user API under /api/wallet.
func NewPublicRouter(logger *zap.Logger, wallet *handler.WalletHandler, tokens *user_service.TokenManager) *gin.Engine {
	r := newEngine(logger)
	public := r.Group("/api/wallet")
	authed := public.Group("")
	authed.Use(handler.AuthMiddleware(tokens))
	wallet.Register(public, authed)
	return r
}

// NewOperatorRouter serves the operator API under /api/operator. The
// signed url of a request is domain plus its path.
func NewOperatorRouter(logger *zap.Logger, op *handler.OperatorHandler, gate *signature.Gate, domain string) *gin.Engine {
	r := newEngine(logger)
	api := r.Group("/api/operator")
	api.Use(handler.SignatureMiddleware(gate, domain))
	op.Register(api)
	return r
}
