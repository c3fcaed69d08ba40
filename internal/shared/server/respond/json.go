package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// JSON writes a JSON response with the given status.
func JSON(c *gin.Context, status int, payload interface{}) {
	c.JSON(status, payload)
}

// OK writes a 200 response, stamping ok:true onto map payloads.
func OK(c *gin.Context, payload gin.H) {
	JSON(c, http.StatusOK, withOK(payload))
}

// Created writes a 201 response, stamping ok:true onto map payloads.
func Created(c *gin.Context, payload gin.H) {
	JSON(c, http.StatusCreated, withOK(payload))
}

func withOK(payload gin.H) gin.H {
	if payload == nil {
		payload = gin.H{}
	}
	payload["ok"] = true
	return payload
}
