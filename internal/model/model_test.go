package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderIsValid(t *testing.T) {
	for _, p := range []Provider{ProviderGoogle, ProviderOutlook, ProviderApple, ProviderOther} {
		assert.True(t, p.IsValid(), p)
	}
	assert.False(t, Provider("yahoo").IsValid())
	assert.False(t, Provider("").IsValid())
}

func TestClassTitle(t *testing.T) {
	assert.Equal(t, "MATH201: Linear Algebra", Class{Name: "Linear Algebra", Code: "MATH201"}.Title())
	assert.Equal(t, "Reading group", Class{Name: "Reading group"}.Title())
}

func TestDeadlineFallbackDescription(t *testing.T) {
	d := Deadline{Type: "exam", Status: "todo"}
	assert.Equal(t, "exam - todo", d.FallbackDescription())
	d.Description = "  "
	assert.Equal(t, "exam - todo", d.FallbackDescription())
	d.Description = "Chapters 1-4"
	assert.Equal(t, "Chapters 1-4", d.FallbackDescription())
}
