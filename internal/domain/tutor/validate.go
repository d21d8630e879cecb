package tutor

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/locales/es"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	es_translations "github.com/go-playground/validator/v10/translations/es"
)

// ErrValidation marks generated content or input that failed validation.
var ErrValidation = errors.New("validation failed")

// ValidationError lists every rule a value broke.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return ErrValidation.Error() + ": " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

var (
	validate   *validator.Validate
	translator ut.Translator
)

const (
	notBlankTag   = "notblank"
	indexRangeTag = "index_range"
)

func init() {
	validate = validator.New()

	spanish := es.New()
	uni := ut.New(spanish, spanish)
	translator, _ = uni.GetTranslator("es")
	_ = es_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON names, the ones the model and API clients see.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	validate.RegisterStructValidation(questionIndexInRange, rawQuestion{})

	noop := func(ut.Translator) error { return nil }
	_ = validate.RegisterTranslation(notBlankTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return fe.Field() + " no puede estar vacío"
	})
	_ = validate.RegisterTranslation(indexRangeTag, translator, noop, func(_ ut.Translator, fe validator.FieldError) string {
		return fmt.Sprintf("%s debe ser una posición válida de options (0 a %s)", fe.Field(), fe.Param())
	})
}

// questionIndexInRange enforces 0 <= correct_index < len(options).
func questionIndexInRange(sl validator.StructLevel) {
	q := sl.Current().Interface().(rawQuestion)
	if q.CorrectIndex == nil || len(q.Options) == 0 {
		return
	}
	if i := *q.CorrectIndex; i < 0 || i >= len(q.Options) {
		sl.ReportError(i, "correct_index", "CorrectIndex", indexRangeTag, fmt.Sprint(len(q.Options)-1))
	}
}

// ValidateRequest checks an inbound request struct against its validate tags.
func ValidateRequest(v any) error {
	if err := validate.Struct(v); err != nil {
		return &ValidationError{Violations: describeViolations("", err)}
	}
	return nil
}

// describeViolations renders validator errors as readable Spanish lines,
// each prefixed with prefix when it is non-empty.
func describeViolations(prefix string, err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{join(prefix, err.Error())}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, join(prefix, fe.Translate(translator)))
	}
	return out
}

func join(prefix, msg string) string {
	if prefix == "" {
		return msg
	}
	return prefix + ": " + msg
}
