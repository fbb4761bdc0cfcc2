// Package httpapi exposes the chat service over HTTP.
package httpapi

import (
	"net/http"

	"github.com/daehyunko/roomchat/internal/service"
	"github.com/gin-gonic/gin"
)

// Envelope is the uniform response wrapper: success carries data, failure
// carries the error taxonomy entry.
type Envelope struct {
	OK    bool           `json:"ok"`
	Data  any            `json:"data,omitempty"`
	Error *service.Error `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Envelope{OK: true, Data: data})
}

func respondErr(c *gin.Context, err error) {
	serr := service.AsError(err)
	c.JSON(serr.StatusCode, Envelope{OK: false, Error: serr})
}
