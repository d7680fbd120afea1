package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_AttachesMetadata(t *testing.T) {
	base := NewStd("connection refused")
	ee := Newf("failed to list rules: %w", base).
		Component("repository").
		Category(CategoryDatabase).
		Context("attempt", 2).
		Build()

	assert.Equal(t, "failed to list rules: connection refused", ee.Error())
	assert.Equal(t, "repository", ee.GetComponent())
	assert.Equal(t, CategoryDatabase, ee.GetCategory())
	assert.Equal(t, 2, ee.GetContext()["attempt"])
	assert.True(t, Is(ee, base), "wrapped error must stay reachable")
	assert.False(t, ee.GetTimestamp().IsZero())
}

func TestCategoryOf(t *testing.T) {
	ee := Newf("bad ring").Category(CategoryGeometry).Build()
	wrapped := fmt.Errorf("rule 7: %w", ee)

	assert.Equal(t, CategoryGeometry, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(NewStd("plain")))
}

func TestReporter_FiltersExpectedCategories(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []Category
	)
	SetReporter(func(ee *EnhancedError) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, ee.GetCategory())
	})
	t.Cleanup(func() { SetReporter(nil) })

	Newf("invalid").Category(CategoryValidation).Build()
	Newf("missing").Category(CategoryNotFound).Build()
	Newf("open ring").Category(CategoryGeometry).Build()
	Newf("broker gone").Category(CategoryNetwork).Build()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 1)
	assert.Equal(t, CategoryNetwork, reported[0])
}

func TestNew_NilError(t *testing.T) {
	ee := New(nil).Build()
	require.Error(t, ee)
	assert.Equal(t, "unknown error", ee.Error())
}
