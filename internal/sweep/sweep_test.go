package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMarker struct {
	calls atomic.Int32
	err   error
}

func (m *countingMarker) MarkOverdue(context.Context) (int, error) {
	m.calls.Add(1)
	return 2, m.err
}

func TestOnce(t *testing.T) {
	m := &countingMarker{}
	n, err := Runner{Marker: m}.Once(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	m.err = errors.New("disk full")
	n, err = Runner{Marker: m}.Once(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 0, n)
}

func TestRunStopsWithContext(t *testing.T) {
	m := &countingMarker{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Runner{Marker: m, Interval: 5 * time.Millisecond}.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return m.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
}
