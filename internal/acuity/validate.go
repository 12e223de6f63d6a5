package acuity

import (
	"time"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("acuitytime", validAcuityTime); err != nil {
		panic("acuity: register acuitytime validation: " + err.Error())
	}
	return v
}

func validAcuityTime(fl validator.FieldLevel) bool {
	_, err := time.Parse(DateTimeLayout, fl.Field().String())
	return err == nil
}
