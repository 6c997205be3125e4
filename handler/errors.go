package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Coded is implemented by every error of the wallet packages.
type Coded interface {
	Subtype() string
	Code() uint16
	Status() int
}

type errorBody struct {
	Code    uint16 `json:"code"`
	Subtype string `json:"subtype"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// requestError is a malformed request detected by the handler itself.
type requestError struct{ err error }

func (e *requestError) Error() string   { return e.err.Error() }
func (e *requestError) Unwrap() error   { return e.err }
func (e *requestError) Subtype() string { return "bad_request" }
func (e *requestError) Code() uint16    { return 400 }
func (e *requestError) Status() int     { return http.StatusBadRequest }

func badRequest(err error) error { return &requestError{err: err} }

func writeError(c *gin.Context, err error) {
	body := errorBody{
		Code:    500,
		Subtype: "internal_error",
		Status:  http.StatusInternalServerError,
		Message: err.Error(),
	}
	var coded Coded
	switch {
	case errors.As(err, &coded):
		body.Code = coded.Code()
		body.Subtype = coded.Subtype()
		body.Status = coded.Status()
	case errors.Is(err, context.DeadlineExceeded):
		body.Code = 504
		body.Subtype = "timeout"
		body.Status = http.StatusGatewayTimeout
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(body.Status, body)
}
