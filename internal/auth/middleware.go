package auth

import (
	"log/slog"
	"net/http"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	loggerpkg "github.com/kuip/provable-sdk/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// Permissions 是访问该路由所需的权限。
	Permissions []string
	// OnDenied 输出拒绝响应；为空时使用 http.Error。
	OnDenied func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证和授权。认证关闭时直接放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := s.AuthenticateRequest(r.Context(), r)
			if err == nil {
				err = subject.Authorize(cfg.Permissions...)
			}
			if err != nil {
				attrs := []any{
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method),
					slog.String("error", err.Error()),
				}
				if subject != nil {
					attrs = append(attrs, slog.String("key", subject.Name))
				}
				loggerpkg.Audit().Warn("access_denied", attrs...)
				deny(cfg, w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSubject(r.Context(), subject)))
		})
	}
}

func deny(cfg MiddlewareConfig, w http.ResponseWriter, r *http.Request, err error) {
	if cfg.OnDenied != nil {
		cfg.OnDenied(w, r, err)
		return
	}
	status := http.StatusUnauthorized
	if xerrors.CodeOf(err) == xerrors.CodePermissionDenied {
		status = http.StatusForbidden
	}
	http.Error(w, http.StatusText(status), status)
}
