package middleware

import (
	"context"
	"net/http"
	"strings"

	apierrors "session-service/internal/errors"
	"session-service/internal/models"
	"session-service/internal/service"
)

type userCtxKey struct{}

// Authenticator — контракт проверки access-токена; реализуется service.Service.
type Authenticator interface {
	AuthenticateAccess(ctx context.Context, accessToken string) (*models.User, error)
}

// Authenticate — охранный мидлвар защищённых маршрутов: извлекает Bearer-токен
// из Authorization, проверяет его и кладёт пользователя в контекст.
// Запрос без валидного токена дальше по цепочке не проходит (401).
// Хранилище сессий в проверке не участвует: access-токен самодостаточен.
func Authenticate(auth Authenticator) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				apierrors.WriteError(w, r, service.ErrInvalidToken)
				return
			}

			user, err := auth.AuthenticateAccess(r.Context(), token)
			if err != nil {
				apierrors.WriteError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), userCtxKey{}, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFrom достаёт аутентифицированного пользователя из контекста запроса.
func UserFrom(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userCtxKey{}).(*models.User)
	return user, ok && user != nil
}

func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}

	token := strings.TrimSpace(auth[len(prefix):])
	return token, token != ""
}
