package server

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jrsteele09/go-audit-server/audit"
)

// runAuditRequest is the body of POST /audits/run.
type runAuditRequest struct {
	ProjectID string `json:"projectId" validate:"required,max=128"`
	Category  string `json:"category" validate:"required,audit_category"`
}

func newRequestValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("audit_category", func(fl validator.FieldLevel) bool {
		_, err := audit.ParseCategory(fl.Field().String())
		return err == nil
	}); err != nil {
		return nil, err
	}
	return v, nil
}

// validationFailure maps a validation error to an API error code and message.
func validationFailure(err error) (code, description string) {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return "invalid_request", "Request body is invalid"
	}
	switch fe := fieldErrs[0]; fe.Field() {
	case "projectId":
		if fe.Tag() == "required" {
			return "missing_project", "projectId is required"
		}
		return "invalid_request", "projectId is too long"
	case "category":
		return "invalid_category", "category must be one of " + strings.Join(categoryNames(), ", ")
	default:
		return "invalid_request", fe.Field() + " is invalid"
	}
}

func categoryNames() []string {
	names := []string{}
	for _, c := range audit.Categories() {
		names = append(names, c.String())
	}
	return append(names, audit.CategoryAll.String())
}
