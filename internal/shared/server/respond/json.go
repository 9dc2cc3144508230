package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// API payloads carry signed file links and clinical metadata, so nothing is cacheable.
const cacheControl = "no-store"

// JSON writes payload with status and marks the response uncacheable.
func JSON(c *gin.Context, status int, payload any) {
	if c.Writer.Header().Get("Cache-Control") == "" {
		c.Header("Cache-Control", cacheControl)
	}
	c.JSON(status, payload)
}

// OK writes a 200 response.
func OK(c *gin.Context, payload any) {
	JSON(c, http.StatusOK, payload)
}

// Created writes a 201 response for a newly stored document.
func Created(c *gin.Context, payload any) {
	JSON(c, http.StatusCreated, payload)
}
