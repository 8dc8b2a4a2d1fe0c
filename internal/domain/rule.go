package domain

import (
	"fmt"
	"time"
)

// RuleConfig is a tenant-defined CEL rule evaluated against every transaction
// of a batch. The expression must return a bool; a true result raises an alert.
type RuleConfig struct {
	ID          string `json:"id" validate:"required,max=64"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name" validate:"required,max=128"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression to evaluate
	Expression string `json:"expression" validate:"required"`

	Severity Severity `json:"severity" validate:"oneof=medium high"`

	Enabled bool `json:"enabled"`

	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// Validate checks required fields.
func (r *RuleConfig) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: rule: %v", ErrInvalidInput, err)
	}
	return nil
}
