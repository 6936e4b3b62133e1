package api

import (
	"encoding/json"
	"errors"
	"net/http"

	xerrors "github.com/kuip/provable-sdk/internal/errors"
	"github.com/kuip/provable-sdk/sdk/go/kayros"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Status 为证明服务返回的状态码，仅在传输错误时出现。
	Status int `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError 根据错误码映射 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	resp := errorResponse{Error: err.Error(), Code: string(code)}

	var te *kayros.TransportError
	if errors.As(err, &te) {
		resp.Status = te.StatusCode
	}
	writeJSON(w, statusFor(code), resp)
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidInput, xerrors.CodeInvalidArgument, xerrors.CodeMissingMetadata, xerrors.CodeJobValidation:
		return http.StatusBadRequest
	case xerrors.CodeUnauthenticated:
		return http.StatusUnauthorized
	case xerrors.CodePermissionDenied:
		return http.StatusForbidden
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInitializationFailure, xerrors.CodeJobPublish, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case xerrors.CodeAuthorityTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
