package test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Format of Request helper ExecuteAPITest() handles
type RequestAPITest struct {
	Method       string            // Method of API request - [GET, POST, PUT, DELETE . . .]
	Path         string            // API Path
	Body         io.Reader         // Request Body, may be nil
	WantResponse []int             // Expected Response according to request
	Headers      map[string]string // Request headers
}

// Helper to execute API tests in Lantern. The recorder is returned for further assertions on the body.
func ExecuteAPITest(t *testing.T, router *gin.Engine, request RequestAPITest) *httptest.ResponseRecorder {
	t.Helper()
	// Setup the test request, a server never hands handlers a nil body
	body := request.Body
	if body == nil {
		body = http.NoBody
	}
	req, reqerr := http.NewRequest(request.Method, request.Path, body)
	require.NoError(t, reqerr)
	for key, val := range request.Headers {
		req.Header.Set(key, val)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	// Assert the response
	assert.Contains(t, request.WantResponse, w.Code, "unexpected status for %s %s: %s", request.Method, request.Path, w.Body.String())
	return w
}
