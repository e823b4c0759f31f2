package validation

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	errpkg "github.com/veranemoloko/study-downloader/internal/errors"
)

const directScheme = "dldicom"

var validate *validator.Validate

func init() {
	validate = New()
}

// New returns a validator with the source_url rule registered.
func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("source_url", validateSourceURL)
	return v
}

// NormalizeSourceURL resolves the manifest URL hidden inside a launcher URL.
// "dldicom:<rest>" yields <rest>; an http(s) URL with a non-empty "url" query
// parameter yields that parameter. Anything else is returned unchanged.
func NormalizeSourceURL(raw string) string {
	raw = strings.TrimSpace(raw)
	scheme, rest, found := strings.Cut(raw, ":")
	if !found {
		return raw
	}

	switch strings.ToLower(scheme) {
	case directScheme:
		return rest
	case "http", "https":
		u, err := url.Parse(raw)
		if err != nil {
			return raw
		}
		if target := u.Query().Get("url"); target != "" {
			return target
		}
	}
	return raw
}

// IsSourceURL reports whether raw looks like something NormalizeSourceURL accepts.
func IsSourceURL(raw string) bool {
	scheme, _, found := strings.Cut(strings.TrimSpace(raw), ":")
	if !found {
		return false
	}
	switch strings.ToLower(scheme) {
	case directScheme, "http", "https":
		return true
	}
	return false
}

// ValidateSourceURL checks that u is an absolute http(s) URL with a host.
func ValidateSourceURL(u string) error {
	if err := validate.Var(u, "required,source_url"); err != nil {
		return fmt.Errorf("%w: invalid URL %q", errpkg.ErrValidation, u)
	}
	return nil
}

func validateSourceURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(NormalizeSourceURL(fl.Field().String()))
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}
