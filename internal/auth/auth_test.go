package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() *Service {
	s := NewService("test-secret")
	s.RegisterAPICredentials("desk-1", "s3cret")
	return s
}

func TestGenerateAndValidateToken(t *testing.T) {
	s := newService()

	token, err := s.GenerateToken(Credentials{APIKey: "desk-1", APISecret: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), token.Expiration, time.Minute)

	claims, err := s.ValidateToken(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", claims.ClientID)
	assert.Equal(t, []string{PermissionLedger}, claims.Permissions)

	clientID, err := s.ClientID(token.Token)
	require.NoError(t, err)
	assert.Equal(t, "desk-1", clientID)
}

func TestGenerateToken_InvalidCredentials(t *testing.T) {
	s := newService()

	_, err := s.GenerateToken(Credentials{APIKey: "desk-1", APISecret: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.GenerateToken(Credentials{APIKey: "unknown", APISecret: "s3cret"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejects(t *testing.T) {
	s := newService()
	token, err := s.GenerateToken(Credentials{APIKey: "desk-1", APISecret: "s3cret"})
	require.NoError(t, err)

	other := NewService("another-secret")
	_, err = other.ValidateToken(token.Token)
	assert.Error(t, err, "signature from a different secret")

	expired := newService()
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	old, err := expired.GenerateToken(Credentials{APIKey: "desk-1", APISecret: "s3cret"})
	require.NoError(t, err)
	_, err = s.ValidateToken(old.Token)
	assert.Error(t, err, "expired token")

	_, err = s.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestGenerateTokenHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/token", NewGinHandlers(newService()).GenerateTokenHandler())

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"api_key":"desk-1","api_secret":"s3cret"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Success bool          `json:"success"`
		Data    TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Data.Token)

	assert.Equal(t, http.StatusUnauthorized, post(`{"api_key":"desk-1","api_secret":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`{`).Code)
}
