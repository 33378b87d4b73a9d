package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequestIDRouter(capture *string) *gin.Engine {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		*capture = GetRequestID(c)
		c.Status(http.StatusOK)
	})
	return router
}

func TestRequestID_GeneratesWhenAbsent(t *testing.T) {
	var captured string
	router := newRequestIDRouter(&captured)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	require.NotEmpty(t, captured)
	_, err := uuid.Parse(captured)
	assert.NoError(t, err, "generated request ID should be a UUID")
	assert.Equal(t, captured, w.Header().Get(RequestIDHeader))
}

func TestRequestID_PreservesClientSupplied(t *testing.T) {
	var captured string
	router := newRequestIDRouter(&captured)

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set(RequestIDHeader, "client-id-7")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, "client-id-7", captured)
	assert.Equal(t, "client-id-7", w.Header().Get(RequestIDHeader))
}

func TestGetRequestID_MissingReturnsEmpty(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, "", GetRequestID(c))
}
