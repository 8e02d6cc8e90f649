package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/plugforge/internal/plugin"
	"github.com/dshills/plugforge/internal/plugin/loader"
)

var (
	_ loader.Catalog    = (*Store)(nil)
	_ loader.RecordSink = (*Store)(nil)
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "db", "plugforge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func descriptor(id, name string) *plugin.Descriptor {
	d := &plugin.Descriptor{
		ID:           id,
		Name:         name,
		Version:      "1.0.0",
		Category:     "Text",
		Language:     plugin.LanguageLua,
		Requirements: []string{"lpeg>=1.0"},
		ConfigSchema: map[string]any{"limit": "number"},
	}
	d.ApplyDefaults()
	return d
}

func TestSaveAndGetDescriptor(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := descriptor("word-count", "Word Count")
	require.NoError(t, s.SaveDescriptor(ctx, d))

	got, err := s.GetDescriptor(ctx, "word-count")
	require.NoError(t, err)
	assert.Equal(t, d, got)

	state, err := s.State(ctx, "word-count")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateAnalyzed, state)
}

func TestGetDescriptorNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.GetDescriptor(context.Background(), "missing")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestSaveDescriptorRejectsInvalid(t *testing.T) {
	s := openStore(t)
	err := s.SaveDescriptor(context.Background(), &plugin.Descriptor{ID: "../x"})
	assert.Error(t, err)
	assert.Error(t, s.SaveDescriptor(context.Background(), nil))
}

func TestSaveDescriptorKeepsState(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	d := descriptor("echo", "Echo")
	require.NoError(t, s.SaveDescriptor(ctx, d))
	require.NoError(t, s.SetState(ctx, "echo", plugin.StateApproved))

	d.Version = "2.0.0"
	require.NoError(t, s.SaveDescriptor(ctx, d))

	entry, err := s.Get(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateApproved, entry.State)
	assert.Equal(t, "2.0.0", entry.Descriptor.Version)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.False(t, entry.UpdatedAt.Before(entry.CreatedAt))
}

func TestSetStateTransitions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDescriptor(ctx, descriptor("echo", "Echo")))

	err := s.SetState(ctx, "echo", plugin.StateInstalled)
	assert.ErrorIs(t, err, plugin.ErrInvalidTransition)

	for _, next := range []plugin.State{plugin.StateApproved, plugin.StateInstalled, plugin.StateLoaded, plugin.StateActive, plugin.StateArchived} {
		require.NoError(t, s.SetState(ctx, "echo", next), "transition to %s", next)
	}
	require.NoError(t, s.SetState(ctx, "echo", plugin.StateArchived), "same state is a no-op")

	err = s.SetState(ctx, "echo", plugin.StateActive)
	assert.ErrorIs(t, err, plugin.ErrInvalidTransition)

	assert.ErrorIs(t, s.SetState(ctx, "missing", plugin.StateApproved), plugin.ErrPluginNotFound)
}

func TestListDescriptors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	js := descriptor("b-greeter", "Greeter")
	js.Language = plugin.LanguageJavaScript
	js.Category = "Social"
	require.NoError(t, s.SaveDescriptor(ctx, js))
	require.NoError(t, s.SaveDescriptor(ctx, descriptor("a-echo", "Echo")))
	require.NoError(t, s.SaveDescriptor(ctx, descriptor("c-count", "Count")))
	require.NoError(t, s.SetState(ctx, "c-count", plugin.StateRejected))

	all, err := s.ListDescriptors(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a-echo", all[0].Descriptor.ID)
	assert.Equal(t, "c-count", all[2].Descriptor.ID)

	rejected := plugin.StateRejected
	got, err := s.ListDescriptors(ctx, Filter{State: &rejected})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-count", got[0].Descriptor.ID)

	got, err = s.ListDescriptors(ctx, Filter{Language: plugin.LanguageJavaScript})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Social", got[0].Descriptor.Category)

	got, err = s.ListDescriptors(ctx, Filter{Category: "Text", Language: plugin.LanguageLua})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveDescriptor(ctx, descriptor("echo", "Echo")))
	require.NoError(t, s.RecordExecution(ctx, plugin.ExecutionRecord{PluginID: "echo", UserID: "u1", Status: plugin.StatusSuccess, Timestamp: time.Now()}))

	require.NoError(t, s.Delete(ctx, "echo"))
	_, err := s.GetDescriptor(ctx, "echo")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)

	records, err := s.Executions(ctx, "echo", 0)
	require.NoError(t, err)
	assert.Empty(t, records)

	assert.ErrorIs(t, s.Delete(ctx, "echo"), plugin.ErrPluginNotFound)
}

func TestExecutions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := "Forbidden import: os"

	records := []plugin.ExecutionRecord{
		{PluginID: "echo", UserID: "u1", Status: plugin.StatusSuccess, Timestamp: base},
		{PluginID: "other", UserID: "u2", Status: plugin.StatusTimeout, Error: &msg, Timestamp: base.Add(time.Second)},
		{PluginID: "echo", UserID: "u3", Status: plugin.StatusError, Error: &msg, Timestamp: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		require.NoError(t, s.RecordExecution(ctx, rec))
	}

	got, err := s.Executions(ctx, "echo", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assertSameRecord(t, records[2], got[0])
	assertSameRecord(t, records[0], got[1])
	assert.Nil(t, got[1].Error)

	got, err = s.Executions(ctx, "", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u3", got[0].UserID)
}

func assertSameRecord(t *testing.T, want, got plugin.ExecutionRecord) {
	t.Helper()
	assert.Equal(t, want.PluginID, got.PluginID)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Error, got.Error)
	assert.True(t, want.Timestamp.Equal(got.Timestamp), "timestamp %v, want %v", got.Timestamp, want.Timestamp)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugforge.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveDescriptor(ctx, descriptor("echo", "Echo")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	d, err := s.GetDescriptor(ctx, "echo")
	require.NoError(t, err)
	assert.Equal(t, "Echo", d.Name)
}
