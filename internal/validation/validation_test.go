package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type request struct {
	To      []string `json:"to" validate:"required,min=1,dive,email"`
	Subject string   `json:"subject" validate:"required,max=10"`
	Kind    string   `json:"kind" validate:"omitempty,oneof=a b"`
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(request{To: []string{"a@b.com"}, Subject: "hi"}))
}

func TestStructCollectsProblems(t *testing.T) {
	err := Struct(request{To: []string{"not-an-address"}, Subject: "far too long a subject", Kind: "c"})
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{
		"to[0] must be a valid email",
		"subject must be at most 10 characters",
		"kind must be one of: a b",
	}, verr.Problems)
}

func TestStructMissingRequired(t *testing.T) {
	err := Struct(request{})
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Problems, "to is required")
	assert.Contains(t, verr.Problems, "subject is required")
}

func TestStructRejectsNonStruct(t *testing.T) {
	err := Struct("nope")
	require.Error(t, err)
	var verr *Error
	assert.False(t, errors.As(err, &verr))
}
