package batch

import (
	"pelias_geocoder/platform/apperr"
	"pelias_geocoder/platform/validator"
)

var jobValidator = newJobValidator()

func newJobValidator() *validator.Validator {
	val := validator.New()
	if err := val.RegisterValidation("pelias_layer", validator.Vocabulary(Layers)); err != nil {
		panic(err)
	}
	if err := val.RegisterValidation("pelias_source", validator.Vocabulary(Sources)); err != nil {
		panic(err)
	}
	return val
}

func validateStruct(s any) error {
	if err := jobValidator.Struct(s); err != nil {
		return apperr.Wrap(apperr.KindValidation, validator.Message(err), err)
	}
	return nil
}
