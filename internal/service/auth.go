package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"session-service/internal/models"
	"session-service/internal/pkg/log"
	"session-service/internal/pkg/redact"
	"session-service/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const maxUsernameLen = 255

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, username, displayName, password string) (*models.User, error) {
	const op = "service.auth.RegisterUser"

	normUsername, err := validateUsername(username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if len(password) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPassword)
	}

	_, err = s.storage.UserByUsername(ctx, normUsername)
	if err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hashedPassword, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		ID:           uuid.New(),
		Username:     normUsername,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.storage.SaveUser(ctx, user); err != nil {
		// Предварительная проверка выше — оптимизация; авторитет уникальности
		// username — ограничение в БД.
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUsernameTaken)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// LoginUser выполняет вход по username+пароль с указанного устройства.
//
// Политика сессий: если для пары (пользователь, устройство) уже есть сессия,
// её refresh-токен переиспользуется без переподписи — повторные логины с одного
// браузера/клиента не плодят новые refresh-токены. Access-токен выпускается
// свежий в любой ветке.
func (s *Service) LoginUser(ctx context.Context, username, password, deviceID string) (*models.TokenPair, error) {
	const op = "service.auth.LoginUser"

	lg := log.From(ctx)

	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	normUsername, err := validateUsername(username)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if len(password) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := s.storage.UserByUsername(ctx, normUsername)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Тот же сентинел, что и при неверном пароле — username не перебрать.
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !checkPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	now := time.Now().UTC()

	refreshToken, err := s.ensureSession(ctx, user.ID, deviceID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	accessToken, err := s.generateAccessToken(user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	lg.Info("login_ok",
		slog.String("username", redact.Username(user.Username)),
		slog.String("device_id", deviceID),
	)

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

// RefreshSession выпускает новый access-токен по refresh-токену.
// Сам refresh-токен не ротируется: клиент получает прежнее значение,
// у сессии обновляется только отметка последнего использования.
func (s *Service) RefreshSession(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	const op = "service.auth.RefreshSession"

	sess, err := s.resolveSession(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	if err := s.storage.TouchSession(ctx, sess.ID, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	accessToken, err := s.generateAccessToken(sess.UserID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    sess.RefreshToken,
		AccessExpiresAt: now.Add(s.cfg.AccessTokenTTL),
	}, nil
}

// Logout отзывает сессию по refresh-токену.
// Повторный Logout с тем же токеном завершится ErrInvalidCredentials
// (сессии уже нет) — токен в любом случае мёртв.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	const op = "service.auth.Logout"

	lg := log.From(ctx)

	sess, err := s.resolveSession(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := s.storage.DeleteSession(ctx, sess.ID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return fmt.Errorf("%s: %w", op, err)
	}

	s.dropCached(ctx, refreshToken)

	lg.Info("logout_ok",
		slog.String("device_id", sess.DeviceID),
	)

	return nil
}

// AuthenticateAccess проверяет access-токен и возвращает пользователя.
// Хранилище сессий здесь не участвует: валидность access-токена самодостаточна,
// отзыв сессии не аннулирует уже выданные access-токены до их собственного
// истечения.
func (s *Service) AuthenticateAccess(ctx context.Context, accessToken string) (*models.User, error) {
	const op = "service.auth.AuthenticateAccess"

	userID, err := s.parseAccessToken(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

// ensureSession возвращает refresh-токен сессии для пары (user, device):
// существующая сессия переиспользуется (touch), отсутствующая — создаётся.
// Проигравший гонку конкурентной вставки перечитывает строку победителя.
func (s *Service) ensureSession(ctx context.Context, userID uuid.UUID, deviceID string, now time.Time) (string, error) {
	const op = "service.auth.ensureSession"

	sess, err := s.storage.SessionByUserDevice(ctx, userID, deviceID)
	if err == nil {
		if terr := s.storage.TouchSession(ctx, sess.ID, now); terr != nil && !errors.Is(terr, storage.ErrNotFound) {
			return "", fmt.Errorf("%s: %w", op, terr)
		}

		return sess.RefreshToken, nil
	}

	if !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	refreshToken, err := s.generateRefreshToken(userID, now)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	newSess := &models.Session{
		ID:           uuid.New(),
		UserID:       userID,
		DeviceID:     deviceID,
		RefreshToken: refreshToken,
		CreatedAt:    now,
		LastUsedAt:   now,
	}

	if err := s.storage.SaveSession(ctx, newSess); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Конкурентный логин с того же нового устройства успел первым —
			// сессия уже существует, перечитываем и переиспользуем её токен.
			winner, werr := s.storage.SessionByUserDevice(ctx, userID, deviceID)
			if werr != nil {
				return "", fmt.Errorf("%s: %w", op, werr)
			}

			if terr := s.storage.TouchSession(ctx, winner.ID, now); terr != nil && !errors.Is(terr, storage.ErrNotFound) {
				return "", fmt.Errorf("%s: %w", op, terr)
			}

			return winner.RefreshToken, nil
		}

		return "", fmt.Errorf("%s: %w", op, err)
	}

	return refreshToken, nil
}

// resolveSession — общая цепочка проверок Refresh/Logout:
// подпись и срок токена, существование пользователя, существование сессии
// и принадлежность сессии субъекту токена.
func (s *Service) resolveSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	const op = "service.auth.resolveSession"

	lg := log.From(ctx)

	userID, err := s.parseRefreshToken(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Существование пользователя перепроверяется на каждом вызове:
	// удалённый извне аккаунт гасит все свои сессии, даже если подпись
	// токена всё ещё валидна.
	if _, err := s.storage.UserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_user_gone",
				slog.String("op", op),
				slog.String("user_id", userID.String()),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := s.lookupSession(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			lg.Warn("refresh_session_not_found",
				slog.String("op", op),
				slog.String("user_id", userID.String()),
			)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Защита от токена, пережившего свою сессию, и от рассинхронизации данных.
	if sess.UserID != userID {
		lg.Warn("refresh_subject_mismatch",
			slog.String("op", op),
			slog.String("user_id", userID.String()),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	return sess, nil
}

// lookupSession читает сессию по refresh-токену через кэш (если настроен).
// Ошибки кэша трактуются как промах; источник истины — БД.
func (s *Service) lookupSession(ctx context.Context, refreshToken string) (*models.Session, error) {
	if s.scache != nil {
		if sess, ok, err := s.scache.Get(ctx, refreshToken); err == nil && ok {
			return sess, nil
		}
	}

	sess, err := s.storage.SessionByRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	if s.scache != nil {
		ttl := time.Until(sess.CreatedAt.Add(s.cfg.RefreshTokenTTL))
		if err := s.scache.Set(ctx, refreshToken, sess, ttl); err != nil {
			log.From(ctx).Warn("session_cache_set_failed", slog.String("err", err.Error()))
		}
	}

	return sess, nil
}

// dropCached удаляет запись кэша; БД уже изменена, поэтому ошибка кэша
// только логируется.
func (s *Service) dropCached(ctx context.Context, refreshToken string) {
	if s.scache == nil {
		return
	}

	if err := s.scache.Delete(ctx, refreshToken); err != nil {
		log.From(ctx).Warn("session_cache_delete_failed", slog.String("err", err.Error()))
	}
}

// hashPassword хэширует пароль с помощью bcrypt.
func hashPassword(password string) (string, error) {
	const op = "service.auth.hashPassword"

	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(bytes), nil
}

// checkPassword сравнивает пароль с хэшем.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// validateUsername проверяет базовый формат username и обрезает пробелы снаружи.
func validateUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" || len(username) > maxUsernameLen {
		return "", ErrInvalidUsername
	}

	return username, nil
}
