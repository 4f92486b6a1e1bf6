package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathima-sithara/messaging-service/internal/apperr"
)

type deleteReq struct {
	MessageID string `json:"messageId" validate:"required"`
	DeleteFor string `json:"deleteFor" validate:"oneof=self everyone"`
	Emoji     string `json:"emoji" validate:"omitempty,notblank,max=16"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(deleteReq{DeleteFor: "nobody"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	fields := apperr.Fields(err)
	require.Len(t, fields, 2)
	assert.Equal(t, "messageId", fields[0].Field)
	assert.Equal(t, "messageId is required", fields[0].Message)
	assert.Equal(t, "deleteFor", fields[1].Field)
	assert.Equal(t, "oneof", fields[1].Tag)
}

func TestStructBlankString(t *testing.T) {
	err := Struct(deleteReq{MessageID: "m1", DeleteFor: "self", Emoji: "   "})
	require.Error(t, err)
	assert.Equal(t, "emoji is required", apperr.Message(err))
}

func TestStructValid(t *testing.T) {
	assert.NoError(t, Struct(deleteReq{MessageID: "m1", DeleteFor: "everyone"}))
}
