package admin

import (
	"context"
	"net/http"
	"testing"
	"time"

	"pkthub/internal/auth"
	"pkthub/internal/microservices/tcp"
	"pkthub/internal/repository"
	"pkthub/pkg/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockUserFinder struct {
	mock.Mock
}

func (m *MockUserFinder) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	args := m.Called(username)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func guardedRouter(tokens *auth.TokenService, users tcp.UserFinder, broadcaster Broadcaster) *gin.Engine {
	gin.SetMode(gin.TestMode)
	registry := tcp.NewClientRegistry()
	h := NewHandler(registry, tcp.NewDispatcher(registry), nil, broadcaster, nil)
	return NewRouter(h, nil, AuthMiddleware(tokens, users), RequireAdmin())
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)
	root := &models.User{ID: "u-1", Username: "root", Role: "admin"}
	alice := &models.User{ID: "u-2", Username: "alice", Role: "user"}

	rootToken, err := tokens.Issue(root.ID, root.Username)
	require.NoError(t, err)
	aliceToken, err := tokens.Issue(alice.ID, alice.Username)
	require.NoError(t, err)
	ghostToken, err := tokens.Issue("u-3", "ghost")
	require.NoError(t, err)

	users := new(MockUserFinder)
	users.On("FindByUsername", "root").Return(root, nil)
	users.On("FindByUsername", "alice").Return(alice, nil)
	users.On("FindByUsername", "ghost").Return(nil, repository.ErrUserNotFound)

	tests := []struct {
		name       string
		header     http.Header
		wantStatus int
	}{
		{"no header", nil, http.StatusUnauthorized},
		{"wrong scheme", http.Header{"Authorization": []string{"Basic abc"}}, http.StatusUnauthorized},
		{"bad token", bearer("nope"), http.StatusUnauthorized},
		{"deleted account", bearer(ghostToken), http.StatusUnauthorized},
		{"not an admin", bearer(aliceToken), http.StatusForbidden},
		{"admin", bearer(rootToken), http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broadcaster := &stubBroadcaster{}
			router := guardedRouter(tokens, users, broadcaster)

			w := post(router, "/notices", `{"message":"hello"}`, tt.header)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusAccepted {
				assert.Len(t, broadcaster.messages, 1)
			} else {
				assert.Empty(t, broadcaster.messages)
			}
		})
	}
}

func TestAuthMiddleware_HealthStaysOpen(t *testing.T) {
	tokens := auth.NewTokenService("0123456789abcdef0123456789abcdef", time.Hour)
	router := guardedRouter(tokens, new(MockUserFinder), nil)

	assert.Equal(t, http.StatusOK, get(router, "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/clients").Code)
}
