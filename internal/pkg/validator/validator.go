package validator

import (
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = registerCustom(validate)
}

// RegisterGinValidations adds the custom tags to gin's binding engine so
// `binding:"ymd"` works on request structs.
func RegisterGinValidations() error {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		return registerCustom(v)
	}
	return nil
}

func registerCustom(v *validator.Validate) error {
	return v.RegisterValidation("ymd", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("2006-01-02", fl.Field().String())
		return err == nil
	})
}

// Var checks a single value against a tag list, e.g. Var(email, "email").
func Var(field any, tag string) error {
	return validate.Var(field, tag)
}

// Validate struct fields
func Validate(v interface{}) map[string]string {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	return Details(err)
}

// Details flattens validator errors into field -> failed tag. Other errors
// (malformed JSON) are reported under "body".
func Details(err error) map[string]string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"body": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}
