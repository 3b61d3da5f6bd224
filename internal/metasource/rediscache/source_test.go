package rediscache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T) (*Source, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	src, err := New(mr.Addr(), 500*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src, mr
}

func TestLookupHit(t *testing.T) {
	src, mr := newTestSource(t)
	require.NoError(t, mr.Set("app-meta.U1", `{"job":"sage","task":"testing"}`))

	got, ok := src.Lookup(context.Background(), "U1")
	require.True(t, ok)
	require.Equal(t, "sage", got["job"])
	require.Equal(t, "testing", got["task"])
}

func TestLookupMiss(t *testing.T) {
	src, _ := newTestSource(t)

	_, ok := src.Lookup(context.Background(), "does-not-exist")
	require.False(t, ok)
}

func TestLookupMemoizes(t *testing.T) {
	src, mr := newTestSource(t)
	require.NoError(t, mr.Set("app-meta.U1", `{"job":"sage"}`))

	_, ok := src.Lookup(context.Background(), "U1")
	require.True(t, ok)

	mr.FastForward(time.Minute)
	require.NoError(t, mr.Del("app-meta.U1"))

	got, ok := src.Lookup(context.Background(), "U1")
	require.True(t, ok, "memoized value should still resolve after the underlying key is removed")
	require.Equal(t, "sage", got["job"])
}

func TestLookupMalformedValueIsMiss(t *testing.T) {
	src, mr := newTestSource(t)
	require.NoError(t, mr.Set("app-meta.U1", `not json`))

	_, ok := src.Lookup(context.Background(), "U1")
	require.False(t, ok)
}

func TestLookupUsesCorrectKeyFormat(t *testing.T) {
	src, mr := newTestSource(t)
	require.NoError(t, mr.Set("app-meta.U9", `{"job":"sage"}`))

	_, err := src.client.Get(context.Background(), "app-meta.U9").Result()
	require.NoError(t, err)

	ok, err := mr.Get("app-meta.U9")
	require.NoError(t, err)
	require.NotEmpty(t, ok)

	_, found := src.Lookup(context.Background(), "U9")
	require.True(t, found)
}
