package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	// report the wire name (json, param or query tag) instead of the Go field name
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "param", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
}

// ReadAndValidateRequest binds path, query and body into req, fills defaults
// and validates it. A nil result means the request is usable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return validatorDefaultRules(err)
	}
	if err := defaults.Set(req); err != nil {
		return validatorDefaultRules(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return validatorDefaultRules(err)
	}
	return nil
}

func validatorDefaultRules(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		out := make([]ValidationError, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			out = append(out, fieldError(fe))
		}
		return out
	}

	msg := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg = fmt.Sprint(he.Message)
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: msg}}
}

// rule renders one validator tag: the message after the field name and the
// key its parameter is reported under.
type rule struct {
	msg      string
	paramKey string
}

var rules = map[string]rule{
	"required": {msg: "is required"},
	"min":      {msg: "must be at least %s", paramKey: "min"},
	"max":      {msg: "must be at most %s", paramKey: "max"},
	"gte":      {msg: "must be greater than or equal to %s", paramKey: "min"},
	"lte":      {msg: "must be less than or equal to %s", paramKey: "max"},
	"gt":       {msg: "must be greater than %s", paramKey: "value"},
	"lt":       {msg: "must be less than %s", paramKey: "value"},
	"oneof":    {msg: "must be one of: %s", paramKey: "options"},
}

func fieldError(fe validator.FieldError) ValidationError {
	out := ValidationError{
		Code:   "ERR_" + strings.ToUpper(fe.Tag()),
		Field:  fe.Field(),
		Params: map[string]interface{}{},
	}
	r, ok := rules[fe.Tag()]
	if !ok {
		out.Message = fmt.Sprintf("%s failed validation: %s", fe.Field(), fe.Tag())
		return out
	}

	param := fe.Param()
	msg := r.msg
	switch {
	case fe.Tag() == "oneof":
		out.Params[r.paramKey] = strings.Fields(param)
		param = strings.Join(strings.Fields(param), ", ")
	case r.paramKey != "":
		out.Params[r.paramKey] = param
	}
	if (fe.Tag() == "min" || fe.Tag() == "max") && fe.Kind() == reflect.String {
		msg += " characters"
	}
	if strings.Contains(msg, "%s") {
		msg = fmt.Sprintf(msg, param)
	}
	out.Message = fe.Field() + " " + msg
	return out
}
