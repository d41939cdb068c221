package core

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"inzikt/internal/types"
)

// maxRequestBodySize caps job request bodies. They carry a provider and a
// small parameter object, never ticket data.
const maxRequestBodySize = 64 << 10

// ErrorResponse is the envelope for every error response. The dashboard
// reads the top-level error string; code and details are for programmatic
// use.
type ErrorResponse struct {
	Success   bool           `json:"success"`
	Error     string         `json:"error"`
	Code      string         `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
}

// JSON writes data with the given status, or a 500 envelope when data
// cannot be encoded.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		body, _ = json.Marshal(ErrorResponse{
			Error:     "failed to encode response",
			Code:      string(types.ErrCodeInternalUnexpected),
			RequestID: types.GetRequestID(r.Context()),
		})
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// Error writes err as an error envelope. A *types.AppError anywhere in the
// chain selects status, code, message and details; anything else is a 500
// whose text is never exposed.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	resp := ErrorResponse{
		Error:     unexpectedErrorMessage,
		Code:      string(types.ErrCodeInternalUnexpected),
		RequestID: types.GetRequestID(r.Context()),
	}
	status := http.StatusInternalServerError

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		resp.Error = appErr.Message
		resp.Code = string(appErr.Code)
		resp.Details = appErr.Details
		status = appErr.HTTPStatus()
	}
	JSON(w, r, status, resp)
}

// DecodeJSON strictly decodes a single JSON object from the request body
// into dst. Unknown fields, trailing values, an empty body and bodies over
// maxRequestBodySize are rejected with validation_invalid_json.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return mapDecodeError(err)
	}
	if dec.More() {
		return invalidJSON("request body must contain a single JSON object", nil)
	}
	return nil
}

func invalidJSON(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeValidationInvalidJSON, msg, err)
}

// mapDecodeError turns a json.Decoder failure into a client-facing message.
func mapDecodeError(err error) *types.AppError {
	var (
		tooLarge  *http.MaxBytesError
		syntax    *json.SyntaxError
		wrongType *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &tooLarge):
		return invalidJSON("request body is too large", err)
	case errors.As(err, &syntax), errors.Is(err, io.ErrUnexpectedEOF):
		return invalidJSON("malformed JSON in request body", err)
	case errors.As(err, &wrongType):
		return invalidJSON("invalid value for field", err).WithDetails(map[string]any{
			"field":    wrongType.Field,
			"expected": wrongType.Type.String(),
		})
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		return invalidJSON("unknown field in request body: "+strings.TrimPrefix(err.Error(), "json: unknown field "), err)
	case errors.Is(err, io.EOF):
		return invalidJSON("request body must not be empty", err)
	default:
		return invalidJSON("invalid JSON in request body", err)
	}
}
