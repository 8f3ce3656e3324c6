package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/passport/core"
)

var errorStatus = []struct {
	err    error
	status int
}{
	{core.ErrInvalidRequest, http.StatusBadRequest},
	{core.ErrUnsupportedMethod, http.StatusBadRequest},
	{core.ErrInvalidSignature, http.StatusUnauthorized},
	{core.ErrTokenExpired, http.StatusUnauthorized},
	{core.ErrTokenRevoked, http.StatusUnauthorized},
	{core.ErrTokenNotFound, http.StatusUnauthorized},
	{core.ErrTokenMalformed, http.StatusUnauthorized},
	{core.ErrIdentityConflict, http.StatusConflict},
	{core.ErrConcurrentUpdate, http.StatusConflict},
	{core.ErrNotFound, http.StatusNotFound},
	{core.ErrUpstreamUnavailable, http.StatusBadGateway},
	{core.ErrStoreUnavailable, http.StatusServiceUnavailable},
}

// statusFor maps a service error to a status code and a message safe to
// show to clients.
func statusFor(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.err.Error()
		}
	}
	return http.StatusInternalServerError, "internal server error"
}

func abortWithError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
