// service содержит бизнес-логику сервиса сессий:
// регистрацию/аутентификацию пользователей, выпуск/проверку токенов
// и управление refresh-сессиями устройств через интерфейсы из пакета storage.
//
// Основные аспекты:
//   - Пакет не хранит состояние запроса внутри Service; экземпляр Service
//     безопасен для конкурентного использования из разных горутин при условии,
//     что переданное хранилище (storage.Storage) потокобезопасно.
//   - На каждое устройство пользователя существует не более одной сессии;
//     повторный логин с того же устройства переиспользует сохранённый
//     refresh-токен и лишь обновляет отметку последнего использования.
//   - Ошибки возвращаются сентинелами и далее маппятся HTTP-слоем
//     на статус-коды (см. комментарии к переменным ошибок ниже).
package service

import (
	"errors"
	"fmt"

	"session-service/internal/cache"
	"session-service/internal/config"
	"session-service/internal/storage"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidCredentials — пара логин/пароль неверна, пользователь не найден
	// или сессия отсутствует/не принадлежит субъекту токена. Сентинел один на все
	// случаи, чтобы по ответу нельзя было перебирать существующие username.
	// Транспорт: HTTP 401.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken — токен (access/refresh) некорректен по формату/подписи.
	// Транспорт: HTTP 401.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired — срок действия токена истёк.
	// Транспорт: HTTP 401.
	ErrTokenExpired = errors.New("token expired")

	// ErrUsernameTaken — username уже занят другим пользователем.
	// Транспорт: HTTP 400.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidUsername — username пустой или длиннее допустимого.
	// Транспорт: HTTP 400.
	ErrInvalidUsername = errors.New("invalid username")

	// ErrEmptyPassword — пароль пустой.
	// Транспорт: HTTP 400.
	ErrEmptyPassword = errors.New("password is empty")
)

// DefaultDeviceID используется, когда клиент не передал идентификатор устройства.
const DefaultDeviceID = "default"

// Service описывает бизнес-логику сервиса сессий.
type Service struct {
	storage storage.Storage
	cfg     config.AuthConfig
	method  jwt.SigningMethod
	scache  cache.SessionCache // может быть nil, если кэш не сконфигурирован
}

// New создаёт новый экземпляр Service.
// Алгоритм подписи фиксируется на старте процесса; поддерживается семейство
// HMAC (HS256/HS384/HS512), при пустом идентификаторе берётся HS256.
func New(storage storage.Storage, cfg config.AuthConfig) (*Service, error) {
	method, err := signingMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	return &Service{
		storage: storage,
		cfg:     cfg,
		method:  method,
	}, nil
}

// MustNew — обёртка над New с panic при ошибке конфигурации.
func MustNew(storage storage.Storage, cfg config.AuthConfig) *Service {
	s, err := New(storage, cfg)
	if err != nil {
		panic(err)
	}

	return s
}

// SetSessionCache устанавливает кэш сессий (опционально).
func (s *Service) SetSessionCache(c cache.SessionCache) {
	s.scache = c
}

func signingMethod(alg string) (jwt.SigningMethod, error) {
	switch alg {
	case "", jwt.SigningMethodHS256.Alg():
		return jwt.SigningMethodHS256, nil
	case jwt.SigningMethodHS384.Alg():
		return jwt.SigningMethodHS384, nil
	case jwt.SigningMethodHS512.Alg():
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}
