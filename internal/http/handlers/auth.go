// Входные/выходные модели и хендлеры публичного REST-контракта:
//   - POST /auth/register  201 {username, display_name}
//   - POST /auth/login     200 {access_token, refresh_token, token_type, access_expires_at}
//   - POST /auth/refresh   200 {access_token, refresh_token, token_type, access_expires_at}
//   - POST /auth/logout    204
//   - GET  /auth/me        200 {username, display_name} (требует access-токен)
//
// Вся валидация и бизнес-логика находятся в пакете service; здесь только
// маппинг данных и ошибок.
package handlers

import (
	"net/http"

	apierrors "session-service/internal/errors"
	"session-service/internal/http/middleware"
	"session-service/internal/models"
	"session-service/internal/service"
)

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	Password    string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	DeviceID string `json:"device_id,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

type tokenResponse struct {
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	TokenType       string `json:"token_type"`
	AccessExpiresAt int64  `json:"access_expires_at"` // Unix UTC
}

func toTokenResponse(tp *models.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:     tp.AccessToken,
		RefreshToken:    tp.RefreshToken,
		TokenType:       "bearer",
		AccessExpiresAt: tp.AccessExpiresAt.Unix(),
	}
}

// Register регистрирует пользователя.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	user, err := h.Service.RegisterUser(r.Context(), in.Username, in.DisplayName, in.Password)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}

// Login аутентифицирует пользователя и возвращает пару токенов.
// Пустой device_id трактуется сервисом как устройство по умолчанию.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	tp, err := h.Service.LoginUser(r.Context(), in.Username, in.Password, in.DeviceID)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(tp))
}

// Refresh выпускает новый access-токен по валидному refresh-токену.
// Значение refresh-токена в ответе совпадает с присланным.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	tp, err := h.Service.RefreshSession(r.Context(), in.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTokenResponse(tp))
}

// Logout отзывает сессию по refresh-токену.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var in refreshRequest
	if err := decodeStrict(r, &in); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	if err := h.Service.Logout(r.Context(), in.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me возвращает профиль аутентифицированного пользователя.
// Пользователя в контекст кладёт middleware.Authenticate.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		apierrors.WriteError(w, r, service.ErrInvalidToken)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		Username:    user.Username,
		DisplayName: user.DisplayName,
	})
}
