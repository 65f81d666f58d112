package auth

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

const signingKey = "test-signing-key"

type AuthSuite struct {
	suite.Suite
	handler http.Handler
}

func TestAuthSuite(t *testing.T) {
	suite.Run(t, new(AuthSuite))
}

func (s *AuthSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	s.handler = RequireAdmin(signingKey, logger)(next)
}

func (s *AuthSuite) token(role string, key string, expiresIn time.Duration) string {
	claims := AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	s.Require().NoError(err)
	return signed
}

func (s *AuthSuite) request(authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/verifications/stale", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *AuthSuite) TestValidAdminTokenPasses() {
	rec := s.request("Bearer " + s.token("admin", signingKey, time.Hour))
	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *AuthSuite) TestMissingHeaderRejected() {
	rec := s.request("")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestNonBearerHeaderRejected() {
	rec := s.request("Basic abc123")
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestWrongKeyRejected() {
	rec := s.request("Bearer " + s.token("admin", "other-key", time.Hour))
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestExpiredTokenRejected() {
	rec := s.request("Bearer " + s.token("admin", signingKey, -time.Hour))
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *AuthSuite) TestNonAdminRoleForbidden() {
	rec := s.request("Bearer " + s.token("viewer", signingKey, time.Hour))
	s.Equal(http.StatusForbidden, rec.Code)
}
