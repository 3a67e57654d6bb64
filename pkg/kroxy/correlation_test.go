package kroxy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrelationManager_AssignMonotonic(t *testing.T) {
	m := NewCorrelationManager()

	id1 := m.Assign(1, 0, 0, false, true, nil)
	id2 := m.Assign(2, 0, 0, false, true, nil)
	id3 := m.Assign(3, 0, 0, false, true, nil)

	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)
}

func TestCorrelationManager_ProduceAcksZeroNotInserted(t *testing.T) {
	m := NewCorrelationManager()

	m.Assign(7, 0 /* Produce */, 0, false, false /* hasResponse */, nil)
	assert.Equal(t, 0, m.Len())
}

func TestCorrelationManager_ConsumeRemovesEntry(t *testing.T) {
	m := NewCorrelationManager()
	id := m.Assign(42, 3, 1, true, true, nil)

	entry, err := m.Consume(id)
	require.NoError(t, err)
	assert.Equal(t, int32(42), entry.DownstreamCorrelationID)
	assert.Equal(t, 0, m.Len())
}

func TestCorrelationManager_ConsumeUnknownID(t *testing.T) {
	m := NewCorrelationManager()

	_, err := m.Consume(999)
	assert.ErrorIs(t, err, ErrUnknownCorrelation)
}

func TestCorrelationManager_CancelAllFailsPromisesAndClears(t *testing.T) {
	m := NewCorrelationManager()
	p1 := newResponsePromise()
	p2 := newResponsePromise()
	m.Assign(1, 0, 0, false, true, p1)
	m.Assign(2, 0, 0, false, true, p2)
	require.Equal(t, 2, m.Len())

	reason := errors.New("upstream closed")
	m.CancelAll(reason)

	assert.Equal(t, 0, m.Len())
	<-p1.done
	<-p2.done
	assert.ErrorIs(t, p1.resp.err, reason)
	assert.ErrorIs(t, p2.resp.err, reason)
}

func TestCorrelationManager_OutOfOrderConsume(t *testing.T) {
	m := NewCorrelationManager()
	idA := m.Assign(1, 0, 0, false, true, nil)
	idB := m.Assign(2, 0, 0, false, true, nil)
	idC := m.Assign(3, 0, 0, false, true, nil)

	// Broker replies out of order: B, then A, then C.
	_, err := m.Consume(idB)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())

	_, err = m.Consume(idA)
	require.NoError(t, err)
	_, err = m.Consume(idC)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}
