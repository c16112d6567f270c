package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Кодек токенов: два независимых секрета для access- и refresh-токенов.
// Компрометация access-секрета не даёт подделывать refresh-токены и наоборот.
// Клеймы ограничены sub/iat/exp/iss; никакой другой слой содержимое
// токена не разбирает.

// generateAccessToken выпускает access-токен для субъекта.
func (s *Service) generateAccessToken(userID uuid.UUID, now time.Time) (string, error) {
	const op = "service.token.generateAccessToken"

	signed, err := s.signToken(userID, now, s.cfg.AccessTokenTTL, []byte(s.cfg.AccessSecret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// generateRefreshToken выпускает refresh-токен для субъекта.
func (s *Service) generateRefreshToken(userID uuid.UUID, now time.Time) (string, error) {
	const op = "service.token.generateRefreshToken"

	signed, err := s.signToken(userID, now, s.cfg.RefreshTokenTTL, []byte(s.cfg.RefreshSecret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// parseAccessToken валидирует access-токен и возвращает субъект.
func (s *Service) parseAccessToken(tokenStr string) (uuid.UUID, error) {
	const op = "service.token.parseAccessToken"

	uid, err := s.parseToken(tokenStr, []byte(s.cfg.AccessSecret))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return uid, nil
}

// parseRefreshToken валидирует refresh-токен и возвращает субъект.
// Токен, подписанный access-секретом, здесь не проходит проверку подписи.
func (s *Service) parseRefreshToken(tokenStr string) (uuid.UUID, error) {
	const op = "service.token.parseRefreshToken"

	uid, err := s.parseToken(tokenStr, []byte(s.cfg.RefreshSecret))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return uid, nil
}

func (s *Service) signToken(userID uuid.UUID, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	// jti делает каждый выпущенный токен уникальным даже при совпадении
	// секунды выпуска (иначе два логина подряд дали бы одинаковый access-токен).
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID.String(),
		Issuer:    s.cfg.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.NewWithClaims(s.method, claims).SignedString(secret)
}

func (s *Service) parseToken(tokenStr string, secret []byte) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if t.Method != s.method {
				return nil, ErrInvalidToken
			}

			return secret, nil
		},
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return uuid.Nil, ErrTokenExpired
		}

		return uuid.Nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || !token.Valid {
		return uuid.Nil, ErrInvalidToken
	}

	uid, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	return uid, nil
}
