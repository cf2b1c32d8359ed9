package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("insufficient scope")
)

// Scope определяет, что разрешено предъявителю токена.
// Области упорядочены: ScopeLedger включает ScopeDevice.
type Scope int

const (
	ScopeNone Scope = iota
	// ScopeDevice: чтение, приём телеметрии и снимков, запуск анализа
	ScopeDevice
	// ScopeLedger: регистрация устройств, события жизненного цикла, паспорта, синхронизация и аудит
	ScopeLedger
)

func (s Scope) String() string {
	switch s {
	case ScopeDevice:
		return "device"
	case ScopeLedger:
		return "ledger"
	default:
		return "none"
	}
}

type AuthConfig struct {
	Enabled bool
	// LedgerToken даёт полный доступ
	LedgerToken string
	// DeviceToken выдаётся агентам и дашбордам, пустой отключает его
	DeviceToken string
}

// Grant возвращает область, которую даёт токен
func (c AuthConfig) Grant(token string) Scope {
	if !c.Enabled {
		return ScopeLedger
	}
	if token == "" {
		return ScopeNone
	}
	if tokenMatches(token, c.LedgerToken) {
		return ScopeLedger
	}
	if tokenMatches(token, c.DeviceToken) {
		return ScopeDevice
	}
	return ScopeNone
}

func tokenMatches(token, configured string) bool {
	if strings.TrimSpace(configured) == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(configured)) == 1
}

// RequestScope определяет область запроса по его токену
func RequestScope(r *http.Request, cfg AuthConfig) Scope {
	return cfg.Grant(ExtractToken(r))
}

// Authorize проверяет, что запрос несёт токен не ниже want
func Authorize(r *http.Request, cfg AuthConfig, want Scope) error {
	granted := RequestScope(r, cfg)
	if granted == ScopeNone {
		return ErrUnauthorized
	}
	if granted < want {
		return ErrForbidden
	}
	return nil
}

// ValidateRequestAuth пропускает любой действующий токен
func ValidateRequestAuth(r *http.Request, cfg AuthConfig) error {
	return Authorize(r, cfg, ScopeDevice)
}

// RequireScope защищает endpoint Bearer token'ом с областью не ниже want
func RequireScope(cfg AuthConfig, want Scope, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			err := Authorize(r, cfg, want)
			switch {
			case err == nil:
				next.ServeHTTP(w, r)
			case errors.Is(err, ErrForbidden):
				log.Warn("Forbidden request",
					"path", r.URL.Path,
					"method", r.Method,
					"required_scope", want.String(),
					"remote_addr", r.RemoteAddr,
				)
				http.Error(w, "Forbidden", http.StatusForbidden)
			default:
				log.Warn("Unauthorized request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="device-lifecycle"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
			}
		})
	}
}

func ExtractToken(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Для WebSocket браузер не может отправить кастомный Authorization header через new WebSocket().
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
