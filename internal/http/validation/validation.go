package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/digitalbazaar/bedrock-payment-http/internal/modules/payments"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("amount", func(fl validator.FieldLevel) bool {
			return payments.ValidAmount(fl.Field().String())
		})
		_ = v.RegisterValidation("paymentstatus", func(fl validator.FieldLevel) bool {
			return payments.Status(fl.Field().String()).Valid()
		})
	}
}

type FieldErrors map[string]string

// FromBindError turns a bind/validation error into a field→message
// map. dst is the bound struct pointer, used to read json tags.
func FromBindError(err error, dst any) FieldErrors {
	out := FieldErrors{}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			key := fieldKey(dst, fe.StructField())
			out[key] = messageForTag(fe.Tag(), fe.Param())
		}
		return out
	}

	// Other bind failures (type mismatch, malformed JSON)
	out["_"] = "Request body is invalid."
	return out
}

func fieldKey(dst any, structField string) string {
	t := reflect.TypeOf(dst)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return strings.ToLower(structField)
	}

	f, ok := t.FieldByName(structField)
	if !ok {
		return strings.ToLower(structField)
	}
	tag := f.Tag.Get("json")
	if tag == "" {
		return strings.ToLower(structField)
	}
	if i := strings.Index(tag, ","); i >= 0 {
		tag = tag[:i]
	}
	if tag == "" || tag == "-" {
		return strings.ToLower(structField)
	}
	return tag
}

func messageForTag(tag, param string) string {
	switch tag {
	case "required":
		return "This field is required."
	case "min":
		return "Must contain at least " + param + " item(s)."
	case "amount":
		return "Must be a non-negative decimal with at most two fractional digits."
	case "paymentstatus":
		return "Must be one of PENDING, PROCESSING, VOIDED, CONFIRMED."
	default:
		return "Invalid value."
	}
}
