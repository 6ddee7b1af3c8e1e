package downloader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripmap-offline/internal/storage"
)

type completion struct {
	areaID string
	area   *storage.DownloadedArea
	err    error
}

func newTestQueue(t *testing.T, fetcher *fakeFetcher, depth int) (*Queue, chan completion) {
	t.Helper()
	d := New(fetcher, newStore(t, nil), testLogger(), Options{})
	q := NewQueue(d, depth, testLogger())

	done := make(chan completion, 8)
	q.SetCallbacks(nil, func(id string, area *storage.DownloadedArea, err error) {
		done <- completion{areaID: id, area: area, err: err}
	})
	t.Cleanup(q.Close)
	return q, done
}

func waitCompletion(t *testing.T, done <-chan completion) completion {
	t.Helper()
	select {
	case c := <-done:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("download did not finish")
		return completion{}
	}
}

func TestQueue_RunsAndAcknowledges(t *testing.T) {
	q, done := newTestQueue(t, &fakeFetcher{}, 4)
	q.Start()

	id, err := q.Enqueue(Request{Name: "Old town", Bounds: boundsForTiles(10, 11, 10, 11, 6), Zoom: 6})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	c := waitCompletion(t, done)
	require.NoError(t, c.err)
	assert.Equal(t, id, c.areaID)
	assert.Equal(t, 4, c.area.TileCount)

	p, ok := q.Progress(id)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, p.Status)
	assert.Equal(t, 100, p.Percentage)

	require.NoError(t, q.Acknowledge(id))
	_, ok = q.Progress(id)
	assert.False(t, ok)
	assert.ErrorIs(t, q.Acknowledge(id), ErrUnknownArea)
}

func TestQueue_Full(t *testing.T) {
	q, _ := newTestQueue(t, &fakeFetcher{}, 1)

	req := Request{Bounds: boundsForTiles(1, 1, 1, 1, 3), Zoom: 3}
	_, err := q.Enqueue(req)
	require.NoError(t, err)

	_, err = q.Enqueue(req)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestQueue_RejectsInvalidAndDuplicate(t *testing.T) {
	q, _ := newTestQueue(t, &fakeFetcher{}, 4)

	_, err := q.Enqueue(Request{Zoom: 99})
	assert.Error(t, err)

	req := Request{ID: "dup", Bounds: boundsForTiles(1, 1, 1, 1, 3), Zoom: 3}
	_, err = q.Enqueue(req)
	require.NoError(t, err)
	_, err = q.Enqueue(req)
	assert.Error(t, err)

	// Still running, cannot acknowledge
	assert.Error(t, q.Acknowledge("dup"))
}

func TestQueue_CancelPending(t *testing.T) {
	q, done := newTestQueue(t, &fakeFetcher{}, 4)

	id, err := q.Enqueue(Request{Bounds: boundsForTiles(1, 2, 1, 2, 3), Zoom: 3})
	require.NoError(t, err)
	require.NoError(t, q.Cancel(id))
	assert.ErrorIs(t, q.Cancel("unknown"), ErrUnknownArea)

	q.Start()
	c := waitCompletion(t, done)
	assert.True(t, errors.Is(c.err, context.Canceled))

	p, ok := q.Progress(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, p.Status)
}
