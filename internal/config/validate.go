package config

import (
	"fmt"
)

// Validate checks every field. Errors wrap ErrInvalid and name the field so
// the operator can fix it.
func Validate(cfg Config) error {
	for _, fd := range fieldDefs {
		if err := ValidateField(fd.Key, FieldValue(cfg, fd.Key)); err != nil {
			return fmt.Errorf("%w: %v\nSet env: %s=...", ErrInvalid, err, fd.EnvVar)
		}
	}
	return nil
}
