package utils

import (
	"RetinaTrack/models"
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Validation errors
var (
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters long")
	ErrPasswordNotComplex = errors.New("password must include at least one uppercase letter, one lowercase letter, one digit, and one special character")
	ErrInvalidResetCode   = errors.New("invalid reset code")
)

var (
	lowercaseRegex = regexp.MustCompile(`[a-z]`)
	uppercaseRegex = regexp.MustCompile(`[A-Z]`)
	digitRegex     = regexp.MustCompile(`\d`)
	specialRegex   = regexp.MustCompile(`[@$!%*?&#._-]`)
)

// ValidateUserData validates a new account, password included.
func ValidateUserData(user models.User) error {
	return validation.ValidateStruct(&user,
		validation.Field(&user.DisplayName, validation.Required, validation.Length(2, 150)),
		validation.Field(&user.Email, validation.Required, is.Email),
		validation.Field(&user.Password, validation.Required.Error("password cannot be blank"), validation.By(validatePassword)),
		validation.Field(&user.RoleName, validation.Required, validation.In(models.RoleAdmin, models.RoleMedico)),
		validation.Field(&user.Phone, validation.Length(0, 50)),
	)
}

// ValidateProfile validates the self-editable profile fields.
func ValidateProfile(displayName, email, phone string) error {
	return validation.Errors{
		"displayName": validation.Validate(displayName, validation.Required, validation.Length(2, 150)),
		"email":       validation.Validate(email, validation.Required, is.Email),
		"phone":       validation.Validate(phone, validation.Length(0, 50)),
	}.Filter()
}

// ValidatePasswordReset validates the reset code and new password.
func ValidatePasswordReset(resetCode, newPassword string) error {
	return validation.Errors{
		"resetCode": validation.Validate(resetCode, validation.Required.Error("invalid reset code"), validation.Length(6, 6)),
		"password":  validation.Validate(newPassword, validation.Required, validation.By(validatePassword)),
	}.Filter()
}

// validatePassword checks the password for length and complexity.
func validatePassword(value interface{}) error {
	password, _ := value.(string)
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if !lowercaseRegex.MatchString(password) ||
		!uppercaseRegex.MatchString(password) ||
		!digitRegex.MatchString(password) ||
		!specialRegex.MatchString(password) {
		return ErrPasswordNotComplex
	}
	return nil
}
