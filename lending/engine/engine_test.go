package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore/memoryengine"
	"github.com/libraryops/lending-engine-go/lending"
	"github.com/libraryops/lending-engine-go/lending/engine"
	"github.com/libraryops/lending-engine-go/testutil/helper"
)

func Test_New_RequiresStore(t *testing.T) {
	// act
	_, err := engine.New(nil)

	// assert
	assert.Error(t, err, "a nil store must be rejected")
}

func Test_New_ValidatesPolicyOption(t *testing.T) {
	// setup
	store, err := memoryengine.New()
	require.NoError(t, err)

	// act
	_, err = engine.New(store, engine.WithPolicy(lending.Policy{}))

	// assert
	assert.ErrorIs(t, err, lending.ErrValidation, "an invalid policy must be rejected at construction")
}

func Test_New_RejectsNilClock(t *testing.T) {
	// setup
	store, err := memoryengine.New()
	require.NoError(t, err)

	// act
	_, err = engine.New(store, engine.WithClock(nil))

	// assert
	assert.Error(t, err)
}

func Test_New_AppliesCustomPolicy(t *testing.T) {
	// setup
	store, err := memoryengine.New()
	require.NoError(t, err)

	policy := lending.DefaultPolicy()
	policy.MaxActiveLoans = 2

	// act
	eng, err := engine.New(store, engine.WithPolicy(policy))

	// assert
	require.NoError(t, err)
	assert.Equal(t, 2, eng.Policy().MaxActiveLoans)
}

func Test_Operations_RecordDurationMetrics(t *testing.T) {
	// setup
	spy := helper.NewMetricsCollectorSpy()
	eng, store, _ := newEngineWithStore(t, engine.WithMetrics(spy))
	ctx := context.Background()
	book := helper.GivenBookInCatalog(t, ctx, store, helper.GivenUniqueID(t), "Sapiens", "Yuval Noah Harari")

	// act
	_, err := eng.Checkout(ctx, book.ID, helper.GivenUniqueID(t))
	require.NoError(t, err)

	// assert
	records := spy.DurationRecords()
	found := false

	for _, record := range records {
		if record.Metric == "lending_operation_duration" &&
			record.Labels["operation"] == "checkout" &&
			record.Labels["status"] == "success" {
			found = true
		}
	}

	assert.True(t, found, "a successful checkout should record its duration with operation and status labels")
}
