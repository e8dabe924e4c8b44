package user

import (
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo/portal/core"
)

var (
	roleTag  = "role"
	roleText = "invalid role"
)

// register validators
func init() {
	_ = core.Validate.RegisterValidation(roleTag, roleValidation)
	core.RegisterCustomTranslation(roleTag, roleText)
}

// roleValidation checks that the field is one of AllRoles
func roleValidation(fl validator.FieldLevel) bool {
	switch v := fl.Field().Interface().(type) {
	case Role:
		return v.Valid()
	case string:
		return Role(v).Valid()
	default:
		return false
	}
}
