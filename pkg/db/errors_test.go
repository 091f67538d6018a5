package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageErrorClassification(t *testing.T) {
	assert.Nil(t, StorageError("noop", nil))

	err := StorageError("upsert block", errors.New("connection reset"))
	assert.ErrorIs(t, err, ErrStorage)
	assert.Contains(t, err.Error(), "upsert block")

	cancelled := StorageError("upsert block", context.Canceled)
	assert.ErrorIs(t, cancelled, context.Canceled)
	assert.NotErrorIs(t, cancelled, ErrStorage)

	conflict := StorageError("upsert block", &ConsistencyError{Entity: "block", Key: "height=1", Stored: "a", Incoming: "b"})
	assert.ErrorIs(t, conflict, ErrConsistency)
	assert.NotErrorIs(t, conflict, ErrStorage)

	var ce *ConsistencyError
	assert.True(t, errors.As(conflict, &ce))
	assert.Equal(t, "block", ce.Entity)
}
