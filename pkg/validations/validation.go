// All global custom validations in Lantern are defined here.
// These validations are allowed to be used anywhere in the application.

package validations

import (
	"regexp"
	"sync"

	"github.com/asaskevich/govalidator"
)

// Entity ids are short opaque tokens: letters, digits, '-', '_', ':' and '.'.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,128}$`)

var once sync.Once

// RegisterCustomValidations adds Lantern's tags into govalidator.TagMap. Safe to call repeatedly.
func RegisterCustomValidations() {
	once.Do(func() {
		// This global validation doesn't allow whitespace in input.
		govalidator.TagMap["nospace"] = govalidator.Validator(func(str string) bool {
			return !govalidator.HasWhitespace(str)
		})
		govalidator.TagMap["entityid"] = govalidator.Validator(IsEntityID)
	})
}

// IsEntityID reports whether str is an acceptable entity id.
func IsEntityID(str string) bool {
	return entityIDPattern.MatchString(str)
}

// ValidEntityIDs reports whether every id in ids passes IsEntityID.
// govalidator does not descend into []string, so slices are checked here.
func ValidEntityIDs(ids []string) bool {
	for _, id := range ids {
		if !IsEntityID(id) {
			return false
		}
	}
	return true
}
