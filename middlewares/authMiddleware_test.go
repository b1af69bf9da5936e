package middlewares

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/lg_backend/utils"
)

func authTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		username, _ := utils.GetUsernameFromContext(c.Request.Context())
		claims := CtxValue(c.Request.Context())
		userId := 0
		if claims != nil {
			userId = claims.ID
		}
		c.JSON(http.StatusOK, gin.H{"username": username, "user_id": userId})
	})
	return r
}

func TestAuthMiddlewareStampsSessionFromBearerToken(t *testing.T) {
	r := authTestRouter(t)

	token, err := utils.JwtGenerate(7, "auditor@lg.test", "user")
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, `"username":"auditor@lg.test"`) {
		t.Fatalf("bearer token must stamp the claimed username, got %s", body)
	}
	if !strings.Contains(body, `"user_id":7`) {
		t.Fatalf("claims must reach the handler, got %s", body)
	}
}

func TestAuthMiddlewareRejectsInvalidBearerToken(t *testing.T) {
	r := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("a malformed bearer token must be rejected, got %d", w.Code)
	}
}

func TestAuthMiddlewarePassesThroughWithoutHeader(t *testing.T) {
	r := authTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("requests without an Authorization header pass through, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"username":""`) {
		t.Fatalf("no session must be stamped without a token, got %s", w.Body.String())
	}
}
