package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/ayo6706/remit-board/internal/domain"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "currency", func(fl validator.FieldLevel) bool {
		return domain.IsSupportedCurrency(fl.Field().String())
	})
	mustRegister(v, "country", func(fl validator.FieldLevel) bool {
		_, ok := domain.LookupCountry(fl.Field().String())
		return ok
	})
	mustRegister(v, "notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	mustRegister(v, "phone", func(fl validator.FieldLevel) bool {
		return domain.ValidatePhone(fl.Field().String()) == nil
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(err)
	}
}

// prepareFields validates every field and normalizes the phone number.
// It never touches the store.
func prepareFields(f models.RequestFields) (models.RequestFields, error) {
	if err := domain.NewMoney(f.Amount, f.Currency).Validate(); err != nil {
		return f, err
	}
	if err := validate.Struct(f); err != nil {
		return f, translate(err)
	}
	f.PhoneNumber = domain.NormalizePhone(f.PhoneNumber)
	return f, nil
}

func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return domain.NewValidationError("", err.Error())
	}
	fe := fieldErrs[0]
	switch fe.Tag() {
	case "required", "notblank":
		return domain.NewValidationError(fe.Field(), "is required")
	case "max":
		return domain.NewValidationError(fe.Field(), "must be at most "+fe.Param()+" characters")
	case "currency":
		return domain.NewValidationError(fe.Field(), "must be one of "+strings.Join(domain.Currencies(), ", "))
	case "country":
		return domain.NewValidationError(fe.Field(), "must be a supported country code")
	case "phone":
		return domain.NewValidationError(fe.Field(), "must be a valid phone number (e.g. +1234567890)")
	default:
		return domain.NewValidationError(fe.Field(), "is invalid")
	}
}
