package controllers_test

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIssuesSession(t *testing.T) {
	e := newEnv(t)

	w := e.postJSON("/auth/register", gin.H{
		"username": "alice",
		"password": "password123",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Token string `json:"token"`
		User  struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	decodeData(t, decodeEnvelope(t, w.Body), &data)
	require.NotEmpty(t, data.Token)
	assert.Equal(t, "alice", data.User.Username)

	// The fresh token already works.
	w = e.get("/auth/me", data.Token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "alice")

	w := e.postJSON("/auth/register", gin.H{
		"username": "alice",
		"password": "password123",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterRejectsBadUsername(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"ab", "has spaces", "way!off"} {
		w := e.postJSON("/auth/register", gin.H{
			"username": name,
			"password": "password123",
		}, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, "username %q", name)
	}
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.createUser(t, "alice")

	w := e.postJSON("/auth/login", gin.H{
		"username": "alice",
		"password": "password123",
	}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Token string `json:"token"`
	}
	decodeData(t, decodeEnvelope(t, w.Body), &data)
	assert.NotEmpty(t, data.Token)

	w = e.postJSON("/auth/login", gin.H{
		"username": "alice",
		"password": "wrong-password",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = e.postJSON("/auth/login", gin.H{
		"username": "nobody",
		"password": "password123",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogoutBlacklistsToken(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")
	token := e.token(t, alice)

	w := e.get("/auth/me", token)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.postJSON("/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code)

	// A revoked token no longer authenticates, so the guard redirects.
	w = e.get("/auth/me", token)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "/auth/login")
}

func TestPasswordHashNeverLeaves(t *testing.T) {
	e := newEnv(t)
	alice := e.createUser(t, "alice")

	w := e.get("/auth/me", e.token(t, alice))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "password")
	assert.NotContains(t, w.Body.String(), "$2a$")
}
