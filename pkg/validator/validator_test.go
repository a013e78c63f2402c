package validator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Content string `json:"content" validate:"notblank,max=5"`
	Type    string `json:"type" validate:"omitempty,oneof=text image"`
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(samplePayload{Content: "   ", Type: "gif"})
	require.Error(t, err)

	failures, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, failures, 2)
	require.Equal(t, "content", failures[0].Field)
	require.Equal(t, "notblank", failures[0].Tag)
	require.Equal(t, "type", failures[1].Field)
	require.Equal(t, "oneof", failures[1].Tag)
	require.Contains(t, err.Error(), "type failed on oneof=text image")
}

func TestValidateStructAcceptsValidPayload(t *testing.T) {
	require.NoError(t, ValidateStruct(samplePayload{Content: "hi", Type: "text"}))
	require.NoError(t, ValidateStruct(samplePayload{Content: "hi"}))
}
