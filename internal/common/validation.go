package common

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator возвращает общий валидатор. Имена полей в ошибках берутся из тега label.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if label := f.Tag.Get("label"); label != "" {
				return label
			}
			return strings.ToLower(f.Name)
		})
	})
	return validate
}

// ValidateStruct проверяет структуру по тегам validate и возвращает ошибку KindValidation.
func ValidateStruct(v any) error {
	err := Validator().Struct(v)
	if err == nil {
		return nil
	}
	msgs := FormatValidationError(err)
	if len(msgs) == 0 {
		return Validationf("некорректные данные")
	}
	return Validationf("%s", strings.Join(msgs, "; "))
}

// FormatValidationError превращает ошибки валидатора в понятные строки.
func FormatValidationError(err error) []string {
	var errs []string

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			field := e.Field()
			switch e.Tag() {
			case "required":
				errs = append(errs, fmt.Sprintf("%s: обязательное поле", field))
			case "min", "gte":
				errs = append(errs, fmt.Sprintf("%s: минимум %s", field, e.Param()))
			case "max", "lte":
				errs = append(errs, fmt.Sprintf("%s: максимум %s", field, e.Param()))
			case "alphanum":
				errs = append(errs, fmt.Sprintf("%s: только латинские буквы и цифры", field))
			case "oneof":
				errs = append(errs, fmt.Sprintf("%s: одно из значений %s", field, e.Param()))
			default:
				errs = append(errs, fmt.Sprintf("%s: некорректное значение (%s)", field, e.Tag()))
			}
		}
	}
	return errs
}
