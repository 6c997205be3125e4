package handler

import (
	"bytes"
	"encoding/base64"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hexresearch/hexstody-sub000/model"
	"github.com/hexresearch/hexstody-sub000/signature"
	"github.com/hexresearch/hexstody-sub000/user_service"
)

const (
	ctxSignature = "operator_signature"
	ctxUser      = "user"
)

// SignatureMiddleware admits requests signed by a trusted operator key.
// The signed url is domain followed by the request path.
func SignatureMiddleware(gate *signature.Gate, domain string) gin.HandlerFunc {
	domain = strings.TrimRight(domain, "/")
	return func(c *gin.Context) {
		var body []byte
		if c.Request.Body != nil {
			raw, err := io.ReadAll(c.Request.Body)
			if err != nil {
				writeError(c, badRequest(err))
				return
			}
			body = raw
			c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		}
		h, err := gate.Check(c.GetHeader(signature.HeaderName), domain+c.Request.URL.Path, body)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(ctxSignature, model.SignatureData{
			Signature: base64.StdEncoding.EncodeToString(h.Signature),
			Nonce:     h.Nonce,
			PublicKey: h.KeyID,
		})
		c.Next()
	}
}

func operatorSignature(c *gin.Context) model.SignatureData {
	v, _ := c.Get(ctxSignature)
	sig, _ := v.(model.SignatureData)
	return sig
}

// AuthMiddleware requires a session token in the Authorization header.
func AuthMiddleware(tokens *user_service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := ""
		if parts := strings.SplitN(header, " ", 2); len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			token = strings.TrimSpace(parts[1])
		}
		user, err := tokens.Parse(token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(ctxUser, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(ctxUser)
}
