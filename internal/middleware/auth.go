// Package middleware содержит HTTP middleware для сервиса craftmarket.
package middleware

import (
	"crypto/hmac"
	"net/http"
)

const apiKeyHeader = "X-Api-Key"

// AuthMiddleware выполняет проверку ключа API в заголовке запроса.
// Эндпоинты сервиса вызываются бэкендом витрины и планировщиком, не браузером.
type AuthMiddleware struct {
	apiKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным ключом.
// При пустом ключе проверка отключена (локальная разработка).
func NewAuthMiddleware(apiKey string) *AuthMiddleware {
	return &AuthMiddleware{
		apiKey: []byte(apiKey),
	}
}

// Middleware сверяет заголовок X-Api-Key с настроенным ключом.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(a.apiKey) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		provided := []byte(r.Header.Get(apiKeyHeader))
		if !hmac.Equal(provided, a.apiKey) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
