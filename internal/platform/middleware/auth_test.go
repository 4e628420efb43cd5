package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// MockTokenValidator is a testify mock for TokenValidator
type MockTokenValidator struct {
	mock.Mock
}

func (m *MockTokenValidator) ValidateToken(tokenString string) (*ServiceClaims, error) {
	args := m.Called(tokenString)
	if claims := args.Get(0); claims != nil {
		return claims.(*ServiceClaims), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockHandler is a test handler that captures if it was called and the context
type mockHandler struct {
	called  bool
	context context.Context
}

func (m *mockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.called = true
	m.context = r.Context()
	w.WriteHeader(http.StatusOK)
}

type AuthMiddlewareTestSuite struct {
	suite.Suite
	validator   *MockTokenValidator
	nextHandler *mockHandler
	middleware  func(http.Handler) http.Handler
}

func (s *AuthMiddlewareTestSuite) SetupTest() {
	s.validator = new(MockTokenValidator)
	s.nextHandler = &mockHandler{}
	s.middleware = RequireServiceToken(s.validator, slog.Default())
}

func (s *AuthMiddlewareTestSuite) TearDownTest() {
	s.validator.AssertExpectations(s.T())
}

func (s *AuthMiddlewareTestSuite) makeRequest(authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/admission/check", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	s.middleware(s.nextHandler).ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareTestSuite))
}

func (s *AuthMiddlewareTestSuite) TestValidToken() {
	s.validator.On("ValidateToken", "good").Return(&ServiceClaims{Service: "cms-edge"}, nil)

	rec := s.makeRequest("Bearer good")

	s.Equal(http.StatusOK, rec.Code)
	s.True(s.nextHandler.called)
	s.Equal("cms-edge", GetService(s.nextHandler.context))
}

func (s *AuthMiddlewareTestSuite) TestMissingHeader() {
	rec := s.makeRequest("")

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.nextHandler.called)
	s.JSONEq(`{"error":"unauthorized","error_description":"Missing or invalid Authorization header"}`, rec.Body.String())
}

func (s *AuthMiddlewareTestSuite) TestWrongScheme() {
	rec := s.makeRequest("Basic Zm9vOmJhcg==")

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.nextHandler.called)
}

func (s *AuthMiddlewareTestSuite) TestInvalidToken() {
	s.validator.On("ValidateToken", "bad").Return(nil, errors.New("signature invalid"))

	rec := s.makeRequest("Bearer bad")

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.False(s.nextHandler.called)
	s.JSONEq(`{"error":"unauthorized","error_description":"Invalid or expired token"}`, rec.Body.String())
}

func TestHS256Validator(t *testing.T) {
	const secret = "test-secret-with-enough-length"
	validator := NewHS256Validator(secret)

	t.Run("accepts issued token", func(t *testing.T) {
		token, err := IssueServiceToken(secret, "cms-edge", time.Minute, time.Now())
		require.NoError(t, err)

		claims, err := validator.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, "cms-edge", claims.Service)
	})

	t.Run("rejects wrong secret", func(t *testing.T) {
		token, err := IssueServiceToken("other-secret", "cms-edge", time.Minute, time.Now())
		require.NoError(t, err)

		_, err = validator.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		token, err := IssueServiceToken(secret, "cms-edge", time.Minute, time.Now().Add(-time.Hour))
		require.NoError(t, err)

		_, err = validator.ValidateToken(token)
		assert.Error(t, err)
	})

	t.Run("rejects wrong audience", func(t *testing.T) {
		claims := ServiceClaims{
			Service: "cms-edge",
			RegisteredClaims: jwt.RegisteredClaims{
				Audience:  jwt.ClaimStrings{"someone-else"},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)

		_, err = validator.ValidateToken(token)
		assert.Error(t, err)
	})
}
