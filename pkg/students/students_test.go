package students_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gradscan/scan-relay/pkg/students"
)

func TestMemoryStore_ValidateKnownStudent(t *testing.T) {
	store := students.NewMemoryStore()
	assert.NoError(t, store.Create(students.Record{ID: "42", Name: "Jane Doe"}))

	rec, ok := store.Validate("42")
	assert.True(t, ok)
	assert.Equal(t, "Jane Doe", rec.Name)

	_, ok = store.Validate("999")
	assert.False(t, ok)
}

func TestMemoryStore_UpdateAndDelete(t *testing.T) {
	store := students.NewMemoryStore()
	assert.NoError(t, store.Create(students.Record{ID: "42", Name: "Jane Doe"}))
	assert.NoError(t, store.Update(students.Record{ID: "42", Name: "Jane A. Doe"}))

	rec, ok := store.Validate("42")
	assert.True(t, ok)
	assert.Equal(t, "Jane A. Doe", rec.Name)

	assert.NoError(t, store.Delete("42"))
	_, ok = store.Validate("42")
	assert.False(t, ok)
	assert.Empty(t, store.List())
}
