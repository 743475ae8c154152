package errors

import (
	"errors"
	"net/http"
)

var httpStatusByCode = map[string]int{
	ErrNotFound.Code:            http.StatusNotFound,
	ErrValidation.Code:          http.StatusBadRequest,
	ErrConnectionState.Code:     http.StatusConflict,
	ErrComplianceViolation.Code: http.StatusUnprocessableEntity,
	ErrIntegrity.Code:           http.StatusUnprocessableEntity,
	ErrHandler.Code:             http.StatusBadGateway,
	ErrBrokerNotAvailable.Code:  http.StatusServiceUnavailable,
	ErrNotEnoughReplicas.Code:   http.StatusServiceUnavailable,
	ErrNetworkException.Code:    http.StatusServiceUnavailable,
	ErrRequestTimeout.Code:      http.StatusGatewayTimeout,
}

func ToHTTPStatus(err error) int {
	if status, ok := httpStatusByCode[CodeOf(err)]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}
