package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidationErrorsMatchesFieldCause(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("name", ErrTeamNameRequired)
	validation.Add("ignored", nil)

	err := validation.Err()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrTeamNameRequired))
	require.False(t, errors.Is(err, ErrInvalidRecipient))
	require.Equal(t, "invalid record: name: team name is required", err.Error())
}

func TestValidationErrorsFlattensNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("userId", "user id must be positive")
	nested.Add("kind", ErrInvalidRecipient)

	validation := &ValidationErrors{}
	validation.Add("recipient", nested)

	var list *ValidationErrors
	require.ErrorAs(t, validation.Err(), &list)
	require.Equal(t, []string{"recipient.userId", "recipient.kind"}, list.Fields())
	require.ErrorIs(t, validation.Err(), ErrInvalidRecipient)
}

func TestValidationErrorsEmpty(t *testing.T) {
	var validation ValidationErrors
	require.NoError(t, validation.Err())

	var nilList *ValidationErrors
	require.NoError(t, nilList.Err())
}
