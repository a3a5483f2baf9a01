package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "document", path: "users/42", wantErr: false},
		{name: "nested document", path: "users/42/saves/slot1", wantErr: false},
		{name: "empty", path: "", wantErr: true},
		{name: "bare collection", path: "users", wantErr: true},
		{name: "odd segments", path: "users/42/saves", wantErr: true},
		{name: "empty segment", path: "users//saves/1", wantErr: true},
		{name: "trailing slash", path: "users/42/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePath(tt.path)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPath)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemoryTransport_RoundTrip(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()

	_, err := m.Get(ctx, "users/42", "tok")
	require.ErrorIs(t, err, ErrNotFound)

	written, err := m.Set(ctx, "users/42", map[string]any{"name": "zelda", "level": 7}, "tok")
	require.NoError(t, err)
	assert.NotZero(t, written.Version)

	got, err := m.Get(ctx, "users/42", "tok")
	require.NoError(t, err)
	assert.Equal(t, "zelda", got.Fields["name"])
	assert.Equal(t, 7, got.Fields["level"])
	assert.Equal(t, written.Version, got.Version)

	// A second write bumps the version.
	rewritten, err := m.Set(ctx, "users/42", map[string]any{"name": "zelda", "level": 8}, "tok")
	require.NoError(t, err)
	assert.Greater(t, rewritten.Version, written.Version)

	require.NoError(t, m.Delete(ctx, "users/42", "tok"))
	_, err = m.Get(ctx, "users/42", "tok")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting an absent document is a no-op.
	require.NoError(t, m.Delete(ctx, "users/42", "tok"))
}

func TestMemoryTransport_RejectsEmptyBearer(t *testing.T) {
	m := NewMemoryTransport()
	ctx := context.Background()

	_, err := m.Get(ctx, "users/42", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = m.Set(ctx, "users/42", map[string]any{}, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	err = m.Delete(ctx, "users/42", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = m.Watch(ctx, "users/42", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestMemoryTransport_WatchDeliversInWriteOrder(t *testing.T) {
	m := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := m.Set(ctx, "users/42", map[string]any{"level": 1}, "tok")
	require.NoError(t, err)

	stream, err := m.Watch(ctx, "users/42", "tok")
	require.NoError(t, err)
	defer stream.Close()

	// The current state arrives first.
	doc, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Fields["level"])

	for level := 2; level <= 4; level++ {
		_, err := m.Set(ctx, "users/42", map[string]any{"level": level}, "tok")
		require.NoError(t, err)
	}
	require.NoError(t, m.Delete(ctx, "users/42", "tok"))

	for level := 2; level <= 4; level++ {
		doc, err := stream.Recv()
		require.NoError(t, err)
		require.NotNil(t, doc)
		assert.Equal(t, level, doc.Fields["level"])
	}

	// Deletion arrives as a nil document.
	doc, err = stream.Recv()
	require.NoError(t, err)
	assert.Nil(t, doc)
}

func TestMemoryTransport_WatchStopsOnContextCancel(t *testing.T) {
	m := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())

	stream, err := m.Watch(ctx, "users/42", "tok")
	require.NoError(t, err)

	cancel()
	_, err = stream.Recv()
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, stream.Close())
}

func TestMemoryTransport_WatchersDoNotSeeOtherPaths(t *testing.T) {
	m := NewMemoryTransport()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := m.Watch(ctx, "users/42", "tok")
	require.NoError(t, err)
	defer stream.Close()

	_, err = m.Set(ctx, "users/43", map[string]any{"level": 9}, "tok")
	require.NoError(t, err)
	_, err = m.Set(ctx, "users/42", map[string]any{"level": 1}, "tok")
	require.NoError(t, err)

	doc, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "users/42", doc.Path)
	assert.Equal(t, 1, doc.Fields["level"])
}
