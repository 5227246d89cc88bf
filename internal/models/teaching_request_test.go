package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackQueuePopDoesNotMutate(t *testing.T) {
	q := FallbackQueue{"b", "c"}
	head, rest, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "b", head)
	assert.Equal(t, FallbackQueue{"c"}, rest)
	assert.Equal(t, FallbackQueue{"b", "c"}, q)

	head, rest, ok = rest.Pop()
	require.True(t, ok)
	assert.Equal(t, "c", head)
	assert.True(t, rest.Empty())

	_, _, ok = rest.Pop()
	assert.False(t, ok)
}

func TestFallbackQueueScanValue(t *testing.T) {
	q := FallbackQueue{"t2", "t3"}
	v, err := q.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"t2","t3"}`, v)

	var scanned FallbackQueue
	require.NoError(t, scanned.Scan([]byte(`{t2,t3}`)))
	assert.Equal(t, q, scanned)

	var empty FallbackQueue
	require.NoError(t, empty.Scan([]byte(`{}`)))
	assert.NotNil(t, empty)
	assert.Equal(t, 0, empty.Len())

	v, err = FallbackQueue(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "{}", v)
}

func TestTeachingRequestLapsed(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	req := &TeachingRequest{Status: RequestStatusPending, TimeoutAt: now}
	assert.True(t, req.Lapsed(now))
	assert.False(t, req.Lapsed(now.Add(-time.Second)))

	req.Status = RequestStatusAccepted
	assert.False(t, req.Lapsed(now.Add(time.Hour)))
}

func TestRequestStatusTerminal(t *testing.T) {
	assert.False(t, RequestStatusPending.Terminal())
	assert.True(t, RequestStatusFailed.Terminal())
	assert.True(t, RequestStatusTimeout.Valid())
	assert.False(t, RequestStatus("bogus").Valid())
}
