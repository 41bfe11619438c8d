package api

import (
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	domainerrors "github.com/kchartio/kchart/internal/errors"
	"github.com/kchartio/kchart/internal/store"
)

// APIError is the error body of every /api/ response. It satisfies
// huma.StatusError so handlers can return it directly.
type APIError struct { //nolint:revive // reads better than api.Error at call sites
	status  int
	Code    string `json:"code" doc:"Machine-readable error code"`
	Message string `json:"message" doc:"Human-readable error message"`
	Details any    `json:"details,omitempty" doc:"Additional error details"`
}

func (e *APIError) Error() string { return e.Message }

func (e *APIError) GetStatus() int { return e.status }

func (e *APIError) ContentType(_ string) string { return "application/json" }

// RegisterErrorHandler replaces huma's default error constructor. Coded
// service errors and store sentinels keep their code; anything else is
// classified by status. It must run before routes are registered.
func RegisterErrorHandler() {
	huma.NewError = func(status int, message string, errs ...error) huma.StatusError {
		if apiErr := fromCoded(errs); apiErr != nil {
			return apiErr
		}

		apiErr := &APIError{
			status:  status,
			Code:    statusToCode(status),
			Message: message,
		}
		if status >= http.StatusInternalServerError {
			return apiErr
		}

		// Request validation failures list one entry per offending field.
		var details []string
		for _, err := range errs {
			if err != nil {
				details = append(details, err.Error())
			}
		}
		if len(details) > 0 {
			apiErr.Details = details
		}
		return apiErr
	}
}

func fromCoded(errs []error) *APIError {
	for _, err := range errs {
		var domainErr *domainerrors.Error
		if errors.As(err, &domainErr) {
			return &APIError{
				status:  domainErr.HTTPStatus(),
				Code:    string(domainErr.Code),
				Message: domainErr.Message,
				Details: domainErr.Details,
			}
		}

		var storeErr *store.Error
		if errors.As(err, &storeErr) {
			return &APIError{
				status:  storeErr.Kind.HTTPStatus(),
				Code:    string(storeErr.Kind),
				Message: storeErr.Message,
			}
		}
	}
	return nil
}

func statusToCode(status int) string {
	var code domainerrors.Code
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = domainerrors.CodeValidation
	case http.StatusNotFound:
		code = domainerrors.CodeNotFound
	case http.StatusConflict:
		code = domainerrors.CodeConflict
	case http.StatusServiceUnavailable:
		code = domainerrors.CodeUnavailable
	default:
		code = domainerrors.CodeInternal
	}
	return string(code)
}
