package vm

import (
	"strings"

	"virtmcp/internal/api"
)

// forbiddenNameChars cannot appear in VM names because VirtualBox uses the
// name as a directory and file name.
const forbiddenNameChars = `/\:*?"<>|`

// MaxNameLength bounds VM names to what every supported host filesystem
// accepts as a path component.
const MaxNameLength = 255

// ValidateName checks that name is usable as a VM name.
func ValidateName(field, name string) error {
	if strings.TrimSpace(name) == "" {
		return api.NewValidationError(field, "must not be empty")
	}
	if len(name) > MaxNameLength {
		return api.NewValidationError(field, "must be at most 255 characters")
	}
	if i := strings.IndexAny(name, forbiddenNameChars); i >= 0 {
		return api.NewValidationError(field, "must not contain "+string(name[i]))
	}
	for _, r := range name {
		if r < 0x20 {
			return api.NewValidationError(field, "must not contain control characters")
		}
	}
	return nil
}
