package errors

import (
	stdErrors "errors"
	"fmt"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInvalidInput          Code = "INVALID_INPUT"
	CodeMissingMetadata       Code = "MISSING_METADATA"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeNotFound              Code = "NOT_FOUND"
	CodeAuthorityTransport    Code = "AUTHORITY_TRANSPORT"
	CodeAttestationFailed     Code = "ATTESTATION_FAILED"
	CodeJobValidation         Code = "JOB_VALIDATION_FAILED"
	CodeJobPublish            Code = "JOB_PUBLISH_FAILED"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

// registry 在初始化后只读。
var registry = map[Code]Attributes{
	CodeUnknown:               {"unknown error", SeverityCritical, false, true},
	CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
	CodeInvalidInput:          {"invalid digest input", SeverityInfo, false, false},
	CodeMissingMetadata:       {"missing attestation metadata", SeverityInfo, false, false},
	CodeUnauthenticated:       {"authentication required", SeverityInfo, false, false},
	CodePermissionDenied:      {"permission denied", SeverityWarning, false, false},
	CodeNotFound:              {"resource not found", SeverityInfo, false, false},
	CodeAuthorityTransport:    {"proof authority request failed", SeverityWarning, true, true},
	CodeAttestationFailed:     {"attestation failed", SeverityWarning, false, true},
	CodeJobValidation:         {"attestation job rejected", SeverityInfo, false, false},
	CodeJobPublish:            {"attestation job could not be queued", SeverityCritical, true, true},
	CodeRetriesExhausted:      {"retries exhausted", SeverityWarning, false, true},
	CodeInitializationFailure: {"service not initialized", SeverityWarning, true, true},
	CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
	CodeTimeout:               {"operation timed out", SeverityWarning, true, true},
}

// AttributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，告警时会一并带出。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建一个新的错误实例，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	// 底层错误自带重试语义时以其为准，例如权威服务返回 4xx。
	var r retryer
	if e.cause != nil && stdErrors.As(e.cause, &r) {
		return r.Retryable()
	}
	return AttributesOf(e.code).Retryable
}

// coder 由不依赖本包的外部错误实现，用于声明所属错误码，
// 例如 kayros.TransportError 声明 AUTHORITY_TRANSPORT。
type coder interface {
	ErrorCode() string
}

// retryer 由自带重试语义的错误实现，例如权威服务的传输错误。
type retryer interface {
	Retryable() bool
}

// CodeOf 返回错误对应的错误码。统一错误类型优先，其次是自行声明错误码的错误。
func CodeOf(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Code()
	}
	var c coder
	if stdErrors.As(err, &c) {
		if code := Code(c.ErrorCode()); code != "" {
			return code
		}
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	var e *Error
	if stdErrors.As(err, &e) {
		return e.Retryable()
	}
	var r retryer
	if stdErrors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// MetadataOf 收集错误链上所有统一错误携带的附加信息，外层覆盖内层。
func MetadataOf(err error) map[string]string {
	var out map[string]string
	for err != nil {
		if e, ok := err.(*Error); ok {
			for k, v := range e.metadata {
				if out == nil {
					out = make(map[string]string)
				}
				if _, seen := out[k]; !seen {
					out[k] = v
				}
			}
		}
		err = stdErrors.Unwrap(err)
	}
	return out
}
