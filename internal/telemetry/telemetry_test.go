package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedEmitsSamplesInOrder(t *testing.T) {
	samples := []Sample{
		{Lat: 1, Lon: 1},
		{Lat: 2, Lon: 2},
		{Lat: 3, Lon: 3},
	}
	feed := NewFeed(samples, time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []Sample
	for s := range feed.Samples(ctx) {
		got = append(got, s)
	}
	require.Equal(t, samples, got)
}

func TestFeedStopsOnContextCancellation(t *testing.T) {
	samples := []Sample{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	feed := NewFeed(samples, 50*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ch := feed.Samples(ctx)

	first := <-ch
	assert.Equal(t, 1.0, first.Lat)
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
}

func TestLatestGetReturnsFalseBeforeAnySet(t *testing.T) {
	l := NewLatest()
	_, ok := l.Get()
	assert.False(t, ok)
}

func TestLatestSetThenGetRoundTrips(t *testing.T) {
	l := NewLatest()
	l.Set(Sample{Lat: 40.7128, Lon: -74.0060})

	s, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, 40.7128, s.Lat)

	// Get is idempotent: repeated calls see the same latest value.
	s2, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, s, s2)
}

func TestLatestSetOverwritesPriorValue(t *testing.T) {
	l := NewLatest()
	l.Set(Sample{Lat: 1})
	l.Set(Sample{Lat: 2})

	s, ok := l.Get()
	require.True(t, ok)
	assert.Equal(t, 2.0, s.Lat)
}

func TestPumpDeliversAllSamplesToLatest(t *testing.T) {
	samples := []Sample{{Lat: 1}, {Lat: 2}, {Lat: 3}}
	feed := NewFeed(samples, time.Millisecond, zerolog.Nop())
	latest := NewLatest()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	Pump(ctx, feed, latest)

	s, ok := latest.Get()
	require.True(t, ok)
	assert.Equal(t, 3.0, s.Lat)
}
