package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pharmaudit/pkg/domain-errors"
)

func TestRunRequestValidate(t *testing.T) {
	assert.NoError(t, (&RunRequest{DryRun: true}).Validate())
	assert.NoError(t, (&RunRequest{Confirm: true}).Validate())

	err := (&RunRequest{}).Validate()
	require.Error(t, err)
	de, ok := dErrors.As(err)
	require.True(t, ok)
	assert.Equal(t, dErrors.CodeValidation, de.Code)
	assert.Equal(t, "confirm", de.Field)

	var nilReq *RunRequest
	assert.True(t, dErrors.HasCode(nilReq.Validate(), dErrors.CodeBadRequest))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy(" Purge ")
	require.NoError(t, err)
	assert.Equal(t, PolicyPurge, p)

	p, err = ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyArchive, p)

	_, err = ParsePolicy("shred")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestCountsAffected(t *testing.T) {
	c := Counts{Scanned: 5, Archived: 2, Purged: 1, Failed: 2}
	assert.Equal(t, 3, c.Affected())
}
