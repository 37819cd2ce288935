package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryEntriesSortedByName(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register("@every 15m", &stubJob{name: "b"}))
	require.NoError(t, registry.Register("*/5 * * * *", &stubJob{name: "a"}))

	entries := registry.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, "a", entries[0].Job.Name())
	require.Equal(t, "*/5 * * * *", entries[0].Spec)
	require.Equal(t, "b", entries[1].Job.Name())

	entry, ok := registry.Lookup("b")
	require.True(t, ok)
	require.Equal(t, "@every 15m", entry.Spec)
}

func TestRegistryRejectsBadRegistrations(t *testing.T) {
	registry := NewRegistry()
	require.Error(t, registry.Register("@hourly", nil))
	require.Error(t, registry.Register("@hourly", &stubJob{}))
	require.Error(t, registry.Register("every tuesday", &stubJob{name: "bad"}))

	require.NoError(t, registry.Register("@hourly", &stubJob{name: "dup"}))
	require.Error(t, registry.Register("@daily", &stubJob{name: "dup"}))
}
