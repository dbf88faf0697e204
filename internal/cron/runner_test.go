package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gmsas95/pillpal/internal/metrics"
	"github.com/gmsas95/pillpal/internal/notify"
	"github.com/gmsas95/pillpal/internal/store"
)

type fakeDevices struct {
	mu      sync.Mutex
	stale   []store.Device
	err     error
	cutoffs []time.Time
}

func (f *fakeDevices) MarkStaleDevicesOffline(ctx context.Context, cutoff time.Time) ([]store.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return nil, f.err
	}
	out := f.stale
	f.stale = nil
	return out, nil
}

func (f *fakeDevices) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, ev notify.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func TestNewRunner_RejectsBadSchedule(t *testing.T) {
	_, err := NewRunner(Config{Schedule: "every now and then"}, &fakeDevices{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestSweep_MarksAndAlerts(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	seen := now.Add(-12 * time.Minute)
	devices := &fakeDevices{stale: []store.Device{
		{ID: "d1", UserID: "u1", Name: "Kitchen", ChipID: "chip-1", LastSeen: &seen},
		{ID: "d2", UserID: "u2", Name: "Bedroom", ChipID: "chip-2"},
	}}
	dispatcher := &fakeDispatcher{}
	m := metrics.New()

	r, err := NewRunner(Config{OfflineAfter: 5 * time.Minute}, devices, dispatcher, m, nil)
	require.NoError(t, err)

	n, err := r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-5*time.Minute), devices.cutoffs[0])

	require.Len(t, dispatcher.events, 2)
	assert.Equal(t, notify.KindDeviceOffline, dispatcher.events[0].Kind)
	assert.Equal(t, "u1", dispatcher.events[0].UserID)
	assert.Contains(t, dispatcher.events[0].Message, "12m0s")
	assert.Contains(t, dispatcher.events[1].Message, "never checked in")

	series, err := testutil.GatherAndCount(m.Registry(), "pillpal_devices_marked_offline_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)

	n, err = r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, dispatcher.events, 2)
}

func TestSweep_StoreError(t *testing.T) {
	boom := errors.New("db down")
	r, err := NewRunner(Config{}, &fakeDevices{err: boom}, nil, nil, nil)
	require.NoError(t, err)

	_, err = r.Sweep(context.Background(), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestSetOfflineAfter(t *testing.T) {
	devices := &fakeDevices{}
	r, err := NewRunner(Config{OfflineAfter: time.Minute}, devices, nil, nil, nil)
	require.NoError(t, err)

	r.SetOfflineAfter(10 * time.Minute)
	r.SetOfflineAfter(-1)
	assert.Equal(t, 10*time.Minute, r.OfflineAfter())

	now := time.Now()
	_, err = r.Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-10*time.Minute), devices.cutoffs[0])
}

func TestRunner_StartStop(t *testing.T) {
	devices := &fakeDevices{}
	r, err := NewRunner(Config{Schedule: "@every 1s"}, devices, nil, nil, nil)
	require.NoError(t, err)

	require.NoError(t, r.Start())
	assert.True(t, r.IsRunning())
	assert.Error(t, r.Start())

	assert.Eventually(t, func() bool { return devices.calls() > 0 }, 3*time.Second, 50*time.Millisecond)

	r.Stop()
	assert.False(t, r.IsRunning())
	r.Stop()
}
