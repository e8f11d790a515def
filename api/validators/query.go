package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/storefront-cart/pkg/errors"
	"github.com/go-chi/chi/v5"
)

// ParseQueryID returns the trimmed query value. Identifiers are never
// truncated: a value over maxLen is rejected.
func ParseQueryID(r *http.Request, key string, maxLen int) (string, error) {
	return checkIdentifier(key, r.URL.Query().Get(key), maxLen)
}

// ParseQueryBool reads an optional boolean flag; absent means false.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, key+" must be a boolean").WithField(key, "true or false")
	}
	return v, nil
}

// RequirePathParam returns the trimmed chi URL parameter or a validation error.
func RequirePathParam(r *http.Request, key string, maxLen int) (string, error) {
	value, err := checkIdentifier(key, chi.URLParam(r, key), maxLen)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, key+" is required").WithField(key, "non-empty path segment")
	}
	return value, nil
}

func checkIdentifier(key, raw string, maxLen int) (string, error) {
	value := strings.TrimSpace(raw)
	if maxLen > 0 && len(value) > maxLen {
		return "", pkgerrors.New(pkgerrors.CodeValidation, key+" is too long").
			WithField(key, "at most "+strconv.Itoa(maxLen)+" characters")
	}
	return value, nil
}
