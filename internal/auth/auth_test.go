package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mishalsheza/queue-ease/internal/models"
	"github.com/mishalsheza/queue-ease/internal/queue"
	"github.com/mishalsheza/queue-ease/internal/response"
	"github.com/mishalsheza/queue-ease/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testIssuer() *Issuer {
	return NewIssuer("access-secret", "refresh-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestIssuerRoundTrip(t *testing.T) {
	issuer := testIssuer()
	user := models.User{ID: "u-1", Role: models.RoleAdmin}

	pair, err := issuer.Issue(user)
	require.NoError(t, err)

	actor, err := issuer.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, queue.Actor{UserID: "u-1", Role: models.RoleAdmin}, actor)

	userID, err := issuer.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", userID)

	// the secrets are not interchangeable
	_, err = issuer.ParseAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.ParseRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssuerRejectsExpiredAndForeignTokens(t *testing.T) {
	issuer := testIssuer()
	pair, err := issuer.Issue(models.User{ID: "u-1", Role: models.RoleUser})
	require.NoError(t, err)

	issuer.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = issuer.ParseAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewIssuer("another", "another", time.Minute, time.Minute)
	foreign, err := other.Issue(models.User{ID: "u-1", Role: models.RoleUser})
	require.NoError(t, err)
	_, err = testIssuer().ParseAccess(foreign.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.ParseAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	issuer := testIssuer()
	r := gin.New()
	r.GET("/me", Middleware(issuer), func(c *gin.Context) {
		c.JSON(http.StatusOK, ActorFrom(c))
	})

	pair, err := issuer.Issue(models.User{ID: "u-7", Role: models.RoleUser})
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + pair.AccessToken, "", http.StatusOK},
		{"query parameter", "", pair.AccessToken, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			url := "/me"
			if tc.query != "" {
				url += "?access_token=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)

			if tc.want == http.StatusOK {
				var actor queue.Actor
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &actor))
				assert.Equal(t, "u-7", actor.UserID)
			} else {
				var body response.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "UNAUTHORIZED", body.Code)
			}
		})
	}
}

func postJSON(t *testing.T, r http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterLoginRefresh(t *testing.T) {
	issuer := testIssuer()
	h := NewHandler(storage.NewMemoryStore(), issuer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.cost = bcrypt.MinCost

	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/refresh", h.Refresh)

	w := postJSON(t, r, "/auth/register", RegisterRequest{Name: "Admin User", Email: "Admin@Example.com", Password: "admin123", Role: "admin"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = postJSON(t, r, "/auth/register", RegisterRequest{Name: "Again", Email: "admin@example.com", Password: "admin123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "EMAIL_EXISTS")

	w = postJSON(t, r, "/auth/register", RegisterRequest{Name: "Root", Email: "root@example.com", Password: "root123", Role: "platform_admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "platform admins cannot self-register")

	w = postJSON(t, r, "/auth/register", map[string]string{"name": "Short", "email": "s@example.com", "password": "123"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "VALIDATION_ERROR")

	w = postJSON(t, r, "/auth/login", LoginRequest{Email: "admin@example.com", Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJSON(t, r, "/auth/login", LoginRequest{Email: "admin@example.com", Password: "admin123"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var tokens response.TokenResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tokens))

	actor, err := issuer.ParseAccess(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, actor.Role)

	w = postJSON(t, r, "/auth/refresh", RefreshTokenRequest{RefreshToken: tokens.RefreshToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = postJSON(t, r, "/auth/refresh", RefreshTokenRequest{RefreshToken: tokens.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
