package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"inzikt/internal/types"
)

// Validator wraps go-playground/validator with the domain tags used by
// request DTOs:
//
//	provider   - a supported helpdesk (zendesk, freshdesk, intercom)
//	adhoc_type - an ad-hoc job type (import, analysis, export)
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names so error details match the wire.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		_, ok := types.ParseProvider(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("adhoc_type", func(fl validator.FieldLevel) bool {
		_, ok := types.ParseAdhocJobType(fl.Field().String())
		return ok
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or an AppError listing each failing field in
// details.fields. A missing required field takes precedence as the code,
// and an unknown provider reports validation_unknown_provider.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]string, len(fieldErrs))
	code := types.ErrCodeValidationInvalidParameter
	message := "invalid request parameters"
	for _, fe := range fieldErrs {
		fields[fe.Field()] = fe.Tag()
		switch fe.Tag() {
		case "required":
			code = types.ErrCodeValidationMissingField
			message = fe.Field() + " is required"
		case "provider":
			if code != types.ErrCodeValidationMissingField {
				code = types.ErrCodeValidationUnknownProvider
				message = fmt.Sprintf("unknown provider %q", fe.Value())
			}
		}
	}

	return types.NewAppErrorWithDetails(code, message, err, map[string]any{"fields": fields})
}
