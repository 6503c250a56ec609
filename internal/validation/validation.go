// Package validation checks resource request bodies and reports every
// violated rule as a field-level Violation.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"example.com/backstage/services/resource/internal/models"
)

// MaxCharacteristicCodeLength is the longest allowed characteristic code.
const MaxCharacteristicCodeLength = 5

var (
	validate = validator.New()

	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
	postalCodePattern  = regexp.MustCompile(`^\d{5}$`)
)

// Violation is one failed rule.
type Violation struct {
	Field         string `json:"field"`
	RejectedValue any    `json:"rejectedValue"`
	Message       string `json:"message"`
}

type collector struct {
	violations []Violation
}

func (c *collector) add(field string, rejected any, format string, args ...any) {
	c.violations = append(c.violations, Violation{
		Field:         field,
		RejectedValue: rejected,
		Message:       fmt.Sprintf(format, args...),
	})
}

// ValidateCreate checks a create body. All rules run; the result is empty
// when the body is valid.
func ValidateCreate(req *models.ResourceRequest) []Violation {
	return validateFull(req)
}

// ValidateUpdate checks a full-replacement body. The rules match create.
func ValidateUpdate(req *models.ResourceRequest) []Violation {
	return validateFull(req)
}

func validateFull(req *models.ResourceRequest) []Violation {
	c := &collector{}
	if req == nil {
		c.add("object", nil, "Request body is required")
		return c.violations
	}

	if req.Type == nil {
		c.add("type", nil, "Resource type is required")
	} else {
		checkResourceType(c, *req.Type)
	}

	if req.CountryCode == "" {
		c.add("countryCode", nil, "Country code is required")
	} else {
		checkCountryCode(c, "countryCode", req.CountryCode)
	}

	if req.Location == nil {
		c.add("location", nil, "Location is required")
	} else {
		checkLocation(c, req.Location)
		checkCountryMatch(c, req.CountryCode, req.Location.CountryCode)
	}

	checkCharacteristics(c, req.Characteristics)
	return c.violations
}

// ValidatePatch checks a partial body. Only present fields are checked.
func ValidatePatch(req *models.PatchResourceRequest) []Violation {
	c := &collector{}
	if req == nil {
		return nil
	}

	if req.Type != nil {
		checkResourceType(c, *req.Type)
	}
	if req.CountryCode != nil {
		checkCountryCode(c, "countryCode", *req.CountryCode)
	}
	if req.Location != nil {
		checkLocation(c, req.Location)
		if req.CountryCode != nil {
			checkCountryMatch(c, *req.CountryCode, req.Location.CountryCode)
		}
	}
	if req.Characteristics != nil {
		checkCharacteristics(c, *req.Characteristics)
	}
	return c.violations
}

func checkResourceType(c *collector, t models.ResourceType) {
	if !t.Valid() {
		c.add("type", string(t),
			"Invalid resource type '%s'. Must be either METERING_POINT or CONNECTION_POINT", t)
	}
}

// checkCountryCode applies the format rule and the ISO rule independently, so
// a malformed code yields two violations.
func checkCountryCode(c *collector, field, code string) {
	if !countryCodePattern.MatchString(code) {
		c.add(field, code, "Country code must be ISO 3166-1 alpha-2 format")
	}
	if !IsCountryCode(code) {
		c.add(field, code, "Invalid country code '%s'. Must be a valid ISO 3166-1 alpha-2 code", code)
	}
}

func checkLocation(c *collector, loc *models.LocationRequest) {
	if isBlank(loc.StreetAddress) {
		c.add("location.streetAddress", loc.StreetAddress, "Street address is required")
	}
	if isBlank(loc.City) {
		c.add("location.city", loc.City, "City is required")
	}
	if isBlank(loc.PostalCode) {
		c.add("location.postalCode", loc.PostalCode, "Postal code is required")
	} else if !postalCodePattern.MatchString(loc.PostalCode) {
		c.add("location.postalCode", loc.PostalCode, "Postal code must be exactly 5 digits")
		c.add("location.postalCode", loc.PostalCode,
			"Invalid postal code '%s'. Must be exactly 5 digits (0-9)", loc.PostalCode)
	}
	if loc.CountryCode != "" {
		checkCountryCode(c, "location.countryCode", loc.CountryCode)
	}
}

func checkCountryMatch(c *collector, resourceCode, locationCode string) {
	if resourceCode == "" || locationCode == "" || resourceCode == locationCode {
		return
	}
	c.add("location.countryCode", locationCode,
		"Resource country code '%s' must match location country code '%s'", resourceCode, locationCode)
}

func checkCharacteristics(c *collector, chars []models.CharacteristicRequest) {
	for i, ch := range chars {
		prefix := fmt.Sprintf("characteristics[%d]", i)

		if isBlank(ch.Code) {
			c.add(prefix+".code", ch.Code, "Code is required")
		} else if n := utf8.RuneCountInString(ch.Code); n > MaxCharacteristicCodeLength {
			c.add(prefix+".code", ch.Code, "Code must be maximum %d characters", MaxCharacteristicCodeLength)
			c.add(prefix+".code", ch.Code,
				"Invalid characteristic code '%s'. Must be maximum %d characters, but was %d",
				ch.Code, MaxCharacteristicCodeLength, n)
		}

		if ch.Type == nil {
			c.add(prefix+".type", nil, "Type is required")
		} else if !ch.Type.Valid() {
			c.add(prefix+".type", string(*ch.Type),
				"Invalid characteristic type '%s'. Must be one of: CONSUMPTION_TYPE, CHARGING_POINT, CONNECTION_POINT_STATUS",
				*ch.Type)
		}

		if isBlank(ch.Value) {
			c.add(prefix+".value", ch.Value, "Value is required")
		}
	}
}

// IsCountryCode reports whether code is an assigned ISO 3166-1 alpha-2 code.
func IsCountryCode(code string) bool {
	if !countryCodePattern.MatchString(code) {
		return false
	}
	return validate.Var(code, "iso3166_1_alpha2") == nil
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
