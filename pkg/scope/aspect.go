package scope

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"

	"github.com/kamiazya/scopes/pkg/domain"
)

// AspectType is the value type of an aspect definition.
type AspectType string

const (
	AspectString  AspectType = "string"
	AspectOrdinal AspectType = "ordinal"
	AspectNumeric AspectType = "numeric"
	AspectBoolean AspectType = "boolean"
)

// ParseAspectType validates a type name.
func ParseAspectType(raw string) (AspectType, error) {
	switch AspectType(raw) {
	case AspectString, AspectOrdinal, AspectNumeric, AspectBoolean:
		return AspectType(raw), nil
	}
	return "", domain.InputError(domain.ReasonInvalidAspectKey,
		fmt.Sprintf("unknown aspect type %q", raw))
}

const aspectKeyPattern = `^[a-z][a-z0-9_]*(-[a-z0-9_]+)*$`

// NewAspectKey validates and normalizes an aspect key.
func NewAspectKey(raw string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" || len(key) > 64 {
		return "", domain.InputError(domain.ReasonInvalidAspectKey, "aspect key must be 1..64 characters")
	}
	if !govalidator.Matches(key, aspectKeyPattern) {
		return "", domain.InputError(domain.ReasonInvalidAspectKey,
			"aspect key must be lower-case words of letters, digits and underscores joined by hyphens").
			With("key", key)
	}
	return key, nil
}

// AspectDefinition declares an aspect key, its value type and constraints.
type AspectDefinition struct {
	Key           string
	Type          AspectType
	AllowMultiple bool

	// AllowedValues orders the ordinal scale; empty for other types.
	AllowedValues []string

	Description string
}

// ValidateValue checks a single value against the definition.
func (d AspectDefinition) ValidateValue(value string) error {
	switch d.Type {
	case AspectString:
		if value == "" {
			return domain.InputError(domain.ReasonInvalidAspectValue, "string aspect value must not be empty").
				With("key", d.Key)
		}
	case AspectBoolean:
		if value != "true" && value != "false" {
			return domain.InputError(domain.ReasonInvalidAspectValue,
				fmt.Sprintf("boolean aspect %q accepts only true or false", d.Key))
		}
	case AspectNumeric:
		if _, err := strconv.ParseFloat(value, 64); err != nil {
			return domain.InputError(domain.ReasonInvalidAspectValue,
				fmt.Sprintf("aspect %q requires a numeric value", d.Key)).
				With("value", value)
		}
	case AspectOrdinal:
		if d.ordinalRank(value) < 0 {
			return domain.InputError(domain.ReasonInvalidAspectValue,
				fmt.Sprintf("aspect %q accepts only its declared values", d.Key)).
				With("value", value).With("allowed", d.AllowedValues)
		}
	}
	return nil
}

// ValidateValues checks a value list, including the multiplicity rule.
func (d AspectDefinition) ValidateValues(values []string) error {
	if len(values) == 0 {
		return domain.InputError(domain.ReasonInvalidAspectValue, "aspect requires at least one value").
			With("key", d.Key)
	}
	if !d.AllowMultiple && len(values) > 1 {
		return domain.InputError(domain.ReasonInvalidAspectValue,
			fmt.Sprintf("aspect %q accepts a single value", d.Key))
	}
	for _, v := range values {
		if err := d.ValidateValue(v); err != nil {
			return err
		}
	}
	return nil
}

func (d AspectDefinition) ordinalRank(value string) int {
	for i, v := range d.AllowedValues {
		if v == value {
			return i
		}
	}
	return -1
}

// CompareValues orders two values under this definition. Returns
// (ordering, false) when the type has no order or a value does not parse.
func (d AspectDefinition) CompareValues(a, b string) (int, bool) {
	switch d.Type {
	case AspectNumeric:
		fa, errA := strconv.ParseFloat(a, 64)
		fb, errB := strconv.ParseFloat(b, 64)
		if errA != nil || errB != nil {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	case AspectOrdinal:
		ra, rb := d.ordinalRank(a), d.ordinalRank(b)
		if ra < 0 || rb < 0 {
			return 0, false
		}
		switch {
		case ra < rb:
			return -1, true
		case ra > rb:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}
