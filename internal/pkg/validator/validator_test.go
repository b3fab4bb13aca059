package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type sample struct {
	Keys  []string `json:"slot_keys" validate:"required,min=1,dive,slotkey"`
	Email string   `json:"email" validate:"required,email"`
}

func TestValidateAcceptsSlotKeys(t *testing.T) {
	errs := Validate(sample{Keys: []string{"2026-June-12-SUBMARINE-17:00"}, Email: "anna@example.se"})
	assert.Nil(t, errs)
}

func TestValidateReportsJSONFieldNames(t *testing.T) {
	errs := Validate(sample{Keys: []string{"June-12"}, Email: "nope"})
	assert.Equal(t, "slotkey", errs["slot_keys[0]"])
	assert.Equal(t, "email", errs["email"])
}
