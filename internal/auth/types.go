package auth

import (
	"fmt"
	"strings"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
)

// 网关使用的权限。"*" 表示全部权限。
const (
	PermAll           = "*"
	PermSeal          = "proofs:write"
	PermVerify        = "proofs:verify"
	PermEnqueue       = "attestations:write"
	PermReadRecords   = "records:read"
	PermComputeDigest = "digests:compute"
)

var (
	// ErrMissingToken 表示请求未携带 API Key。
	ErrMissingToken = xerrors.New(xerrors.CodeUnauthenticated, "缺少 API Key")
	// ErrInvalidToken 表示 API Key 不存在。
	ErrInvalidToken = xerrors.New(xerrors.CodeUnauthenticated, "API Key 无效")
	// ErrPermissionDenied 表示调用方缺少所需权限。
	ErrPermissionDenied = xerrors.New(xerrors.CodePermissionDenied, "权限不足")
)

// Key 是配置中声明的一个 API Key。
type Key struct {
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`
	Token       string   `json:"token" yaml:"token"`
	Permissions []string `json:"permissions" yaml:"permissions"`
}

// Subject 是通过认证的调用方，经由 context 传给处理函数。
type Subject struct {
	Name        string
	Permissions []string

	permissionsSet map[string]struct{}
}

func newSubject(name string, perms []string) *Subject {
	s := &Subject{Name: name, Permissions: append([]string(nil), perms...)}
	s.permissionsSet = make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
	return s
}

// HasPermission reports whether the subject has the specified permission.
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if _, ok := s.permissionsSet[PermAll]; ok {
		return true
	}
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize ensures the subject has all required permissions.
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}
