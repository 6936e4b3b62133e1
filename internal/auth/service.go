package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// HeaderAPIKey 是 Authorization 之外可选的 API Key 请求头。
const HeaderAPIKey = "X-API-Key"

type credential struct {
	sum     [sha256.Size]byte
	subject *Subject
}

// Service 校验网关请求携带的静态 API Key。未配置任何 Key 时认证关闭。
type Service struct {
	keys []credential
}

// NewService 根据配置构造认证服务。
func NewService(keys []Key) (*Service, error) {
	s := &Service{keys: make([]credential, 0, len(keys))}
	seen := make(map[[sha256.Size]byte]string, len(keys))
	for i, key := range keys {
		token := strings.TrimSpace(key.Token)
		if token == "" {
			return nil, fmt.Errorf("api_keys[%d] 缺少 token", i)
		}
		name := key.Name
		if name == "" {
			name = fmt.Sprintf("key-%d", i)
		}
		sum := sha256.Sum256([]byte(token))
		if other, dup := seen[sum]; dup {
			return nil, fmt.Errorf("api key %s 与 %s 重复", name, other)
		}
		seen[sum] = name
		s.keys = append(s.keys, credential{sum: sum, subject: newSubject(name, key.Permissions)})
	}
	return s, nil
}

// Enabled 表示是否启用了认证。
func (s *Service) Enabled() bool {
	return s != nil && len(s.keys) > 0
}

// AuthenticateRequest 从 Authorization: Bearer 或 X-API-Key 中解析调用方。
func (s *Service) AuthenticateRequest(_ context.Context, r *http.Request) (*Subject, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(HeaderAPIKey))
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	// 比较摘要并遍历全部 Key，耗时与匹配位置无关。
	sum := sha256.Sum256([]byte(token))
	var found *Subject
	for _, c := range s.keys {
		if subtle.ConstantTimeCompare(sum[:], c.sum[:]) == 1 {
			found = c.subject
		}
	}
	if found == nil {
		return nil, ErrInvalidToken
	}
	return found, nil
}

func bearerToken(authorization string) string {
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
