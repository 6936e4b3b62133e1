// Package auth 为网关提供基于静态 API Key 的认证与权限校验。
package auth
