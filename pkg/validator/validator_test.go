package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type controlInput struct {
	Action   string `json:"action" validate:"required,oneof=PLAY PAUSE SEEK"`
	Position *int64 `json:"position" validate:"omitempty,gte=0"`
	Ignored  string `json:"-"`
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	_, ok := v.Validate(controlInput{Action: "PLAY"})
	assert.True(t, ok)

	negative := int64(-1)
	errs, ok := v.Validate(controlInput{Action: "STOP", Position: &negative})
	require.False(t, ok)
	require.Len(t, errs, 2)

	assert.Equal(t, "action", errs[0].Field)
	assert.Equal(t, "ONEOF", errs[0].Code)
	assert.Equal(t, "position", errs[1].Field)
	assert.Equal(t, "GTE", errs[1].Code)
	assert.Equal(t, "position must be greater than or equal to 0", errs[1].Message)
}
