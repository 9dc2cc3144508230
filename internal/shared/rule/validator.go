// Package rule wraps go-playground/validator and shares custom rules with gin's binding engine.
package rule

import (
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	inst *validator.Validate
	once sync.Once
)

func initValidator() {
	inst = validator.New()
	_ = inst.RegisterValidation("httpurl", validateHTTPURL)

	// gin binds request bodies with its own engine under the "binding" tag.
	if engine := binding.Validator.Engine(); engine != nil {
		if v, ok := engine.(*validator.Validate); ok {
			_ = v.RegisterValidation("httpurl", validateHTTPURL)
		}
	}
}

// Engine returns the shared validator.
func Engine() *validator.Validate {
	once.Do(initValidator)
	return inst
}

// ValidateStruct runs struct-tag validation.
func ValidateStruct(s any) error {
	return Engine().Struct(s)
}

// ValidateVar validates a single value, e.g. ValidateVar(cat, "required,max=64").
func ValidateVar(field any, tag string) error {
	return Engine().Var(field, tag)
}

// FieldErrors flattens validation errors into field -> failed tag.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[lowerFirst(fe.Field())] = fe.Tag()
	}
	return out
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	raw := strings.TrimSpace(fl.Field().String())
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
