package handler

import (
	"net/http"

	"github.com/dreschagin/device-lifecycle/internal/interfaces/http/middleware"
	"github.com/dreschagin/device-lifecycle/pkg/logger"
)

type AuthAPIHandler struct {
	authConfig middleware.AuthConfig
	logger     *logger.Logger
}

type authStatusResponse struct {
	AuthEnabled   bool   `json:"auth_enabled"`
	Authenticated bool   `json:"authenticated"`
	Scope         string `json:"scope"`
	CanWrite      bool   `json:"can_write_ledger"`
}

func NewAuthAPIHandler(authConfig middleware.AuthConfig, log *logger.Logger) *AuthAPIHandler {
	return &AuthAPIHandler{
		authConfig: authConfig,
		logger:     log,
	}
}

// Status сообщает, какую область даёт предъявленный токен.
// Агенты проверяют им токен перед отправкой событий в реестр.
func (h *AuthAPIHandler) Status(w http.ResponseWriter, r *http.Request) {
	scope := middleware.RequestScope(r, h.authConfig)
	if h.authConfig.Enabled && scope == middleware.ScopeNone && middleware.ExtractToken(r) != "" {
		h.logger.Debug("Auth status with unknown token", "remote_addr", r.RemoteAddr)
	}

	writeJSON(w, http.StatusOK, authStatusResponse{
		AuthEnabled:   h.authConfig.Enabled,
		Authenticated: scope != middleware.ScopeNone,
		Scope:         scope.String(),
		CanWrite:      scope >= middleware.ScopeLedger,
	})
}
