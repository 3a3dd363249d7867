// Package httpapi holds the gin handlers for the gateway and api services.
//
// Every response has a boolean status and a human readable msg. Failures
// also carry a machine readable code.
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/logging"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

const (
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeNotFound     = "not_found"
	CodeNotPending   = "not_pending"
	CodeInternal     = "internal"
)

type Response struct {
	Status bool   `json:"status"`
	Msg    string `json:"msg,omitempty"`
	Code   string `json:"code,omitempty"`
	Data   any    `json:"data,omitempty"`
}

func ok(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusOK, Response{Status: true, Msg: msg, Data: data})
}

func created(c *gin.Context, msg string, data any) {
	c.JSON(http.StatusCreated, Response{Status: true, Msg: msg, Data: data})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, Response{Msg: msg, Code: CodeValidation})
}

// fail maps a domain error to its HTTP status. Unknown errors are logged
// and reported as internal without their text.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	status, code, msg := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.FullPath(), "error", err)
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, Response{Msg: msg, Code: code})
}

func classify(err error) (int, string, string) {
	var v *model.ValidationError
	switch {
	case errors.As(err, &v):
		return http.StatusBadRequest, CodeValidation, v.Reason
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, CodeNotFound, "Not found"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, CodeForbidden, "Unauthorized"
	case errors.Is(err, model.ErrNotPending):
		return http.StatusConflict, CodeNotPending, "Message is not pending"
	case errors.Is(err, model.ErrMessageDeleted):
		return http.StatusForbidden, CodeForbidden, "Cannot edit deleted message"
	}
	return http.StatusInternalServerError, CodeInternal, "Internal server error"
}

// actingUser is the token user. claimed, when set, must match it.
func actingUser(c *gin.Context, claimed string) (string, bool) {
	claims, found := auth.ClaimsFrom(c)
	if !found {
		c.AbortWithStatusJSON(http.StatusUnauthorized, Response{Msg: "Unauthorized", Code: CodeUnauthorized})
		return "", false
	}
	if claimed != "" && claimed != claims.UserID {
		c.AbortWithStatusJSON(http.StatusForbidden, Response{Msg: "Unauthorized", Code: CodeForbidden})
		return "", false
	}
	return claims.UserID, true
}

// CORS allows browser clients from any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		h.Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// NewRouter returns a gin engine with recovery, access logging and CORS.
func NewRouter(logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware(logger), CORS())
	r.GET("/healthz", func(c *gin.Context) {
		ok(c, "ok", nil)
	})
	return r
}
