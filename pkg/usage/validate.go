package usage

import (
	"strings"
	"unicode"
)

// MaxIdentityLength is the longest identity key accepted.
const MaxIdentityLength = 256

// ValidateIdentity checks that an identity is a usable counter key.
func ValidateIdentity(identity string) error {
	if strings.TrimSpace(identity) == "" {
		return &ValidationError{Field: "identity", Message: "identity is required"}
	}
	if len(identity) > MaxIdentityLength {
		return &ValidationError{Field: "identity", Message: "identity exceeds 256 bytes"}
	}
	for _, r := range identity {
		if unicode.IsControl(r) {
			return &ValidationError{Field: "identity", Message: "identity contains control characters"}
		}
	}
	return nil
}

// ParseFeatureType converts a string to a known FeatureType.
func ParseFeatureType(s string) (FeatureType, error) {
	ft := FeatureType(strings.ToLower(strings.TrimSpace(s)))
	if err := ft.Validate(); err != nil {
		return "", err
	}
	return ft, nil
}

// Validate returns a ValidationError for unknown feature types.
func (f FeatureType) Validate() error {
	for _, known := range Features {
		if f == known {
			return nil
		}
	}
	return &ValidationError{Field: "feature", Message: "unknown feature type " + `"` + string(f) + `"`}
}
