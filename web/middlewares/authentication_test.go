package middlewares

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"punchcard.com/punchcard/security"
)

var testSecret = base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	secret, err := security.DecodeSecret(testSecret)
	require.NoError(t, err)

	r := gin.New()
	r.Use(Authentication(secret))
	r.GET("/whoami", func(c *gin.Context) {
		identity, ok := CurrentIdentity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, identity)
	})
	return r
}

func TestAuthentication(t *testing.T) {
	r := newRouter(t)
	token, err := security.CreateIdentityToken(&security.Identity{
		UserID: 42, UniqueName: "ada", Roles: []string{security.RoleEmployee},
	}, testSecret, 60)
	require.NoError(t, err)

	tests := []struct {
		name   string
		setup  func(req *http.Request)
		status int
	}{
		{"no credentials", func(req *http.Request) {}, http.StatusUnauthorized},
		{"bearer", func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }, http.StatusOK},
		{"lowercase scheme", func(req *http.Request) { req.Header.Set("Authorization", "bearer "+token) }, http.StatusOK},
		{"wrong scheme", func(req *http.Request) { req.Header.Set("Authorization", "Basic "+token) }, http.StatusUnauthorized},
		{"garbage", func(req *http.Request) { req.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"cookie", func(req *http.Request) { req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token}) }, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), `"nameid":42`)
			}
		})
	}
}

func TestCurrentIdentityMissing(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := CurrentIdentity(c)
	assert.False(t, ok)
}
