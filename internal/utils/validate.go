package utils

import (
	"net/url"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("fetchable_url", validateFetchableURL)
}

// ValidateURL rejects URLs the engine cannot fetch before any network I/O.
func ValidateURL(rawURL string) error {
	if err := validate.Var(rawURL, "required,fetchable_url"); err != nil {
		return &InvalidURLError{URL: rawURL, Reason: "must be an absolute http(s) URL"}
	}
	return nil
}

func validateFetchableURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
