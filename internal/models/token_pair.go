package models

import "time"

// TokenPair — пара токенов, выдаваемая при логине и обновлении.
//
// Описание:
//   - AccessToken — короткоживущий JWT для доступа к API;
//   - RefreshToken — долгоживущий JWT, привязанный к сессии устройства;
//     при повторном логине с того же устройства возвращается прежнее значение;
//   - AccessExpiresAt — момент истечения access-токена (UTC).
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
}
