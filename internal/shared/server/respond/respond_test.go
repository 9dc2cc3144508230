package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestResponsesAreNotCacheable(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		write  func(*gin.Context)
		status int
	}{
		{"ok", func(c *gin.Context) { OK(c, gin.H{"id": "doc-1"}) }, http.StatusOK},
		{"created", func(c *gin.Context) { Created(c, gin.H{"id": "doc-1"}) }, http.StatusCreated},
		{"error", func(c *gin.Context) {
			Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		}, http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := gin.New()
			r.GET("/x", tt.write)
			resp := httptest.NewRecorder()
			r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))
			if resp.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, resp.Code)
			}
			if got := resp.Header().Get("Cache-Control"); got != "no-store" {
				t.Fatalf("expected no-store, got %q", got)
			}
		})
	}
}

func TestJSONKeepsExplicitCacheControl(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/categories", func(c *gin.Context) {
		c.Header("Cache-Control", "private, max-age=30")
		OK(c, gin.H{"categories": []string{"Cardiology"}})
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/categories", nil))
	if got := resp.Header().Get("Cache-Control"); got != "private, max-age=30" {
		t.Fatalf("explicit header overwritten: %q", got)
	}
}

func TestErrorEnvelopeShape(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		Error(c, http.StatusBadRequest, "validation_error", "title is required", map[string]string{"title": "required"})
	})
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/x", nil))

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "validation_error" || body.Error.Message != "title is required" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}
