package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarkDirtyIdempotent проверяет, что повторная отметка чанка не
// создаёт дубликат, но обновляет причину
func TestMarkDirtyIdempotent(t *testing.T) {
	tracker := NewDirtyChunkTracker(nil)

	tracker.MarkDirty("world-1", []string{"0:0"}, "edit_apply")
	tracker.MarkDirty("world-1", []string{"0:0"}, "model_transfer")

	assert.Equal(t, 1, tracker.Count("world-1"), "повторная отметка не должна создавать дубликат")

	entry, found := tracker.Get("world-1", "0:0")
	require.True(t, found)
	assert.Equal(t, "model_transfer", entry.Reason, "причина должна быть от последней отметки")
}

func TestMarkDirtyWorldIsolation(t *testing.T) {
	tracker := NewDirtyChunkTracker(nil)

	tracker.MarkDirty("world-1", []string{"0:0", "0:1"}, "edit_apply")
	tracker.MarkDirty("world-2", []string{"0:0"}, "edit_apply")

	assert.Equal(t, 2, tracker.Count("world-1"))
	assert.Equal(t, 1, tracker.Count("world-2"))
}

// TestClaimAck тестирует жизненный цикл отметок at-least-once
func TestClaimAck(t *testing.T) {
	tracker := NewDirtyChunkTracker(nil)
	tracker.MarkDirty("world-1", []string{"1:0", "0:0", "2:0"}, "edit_apply")

	claimed := tracker.Claim("world-1", 2)
	require.Len(t, claimed, 2)

	// До подтверждения отметки остаются в трекере
	assert.Equal(t, 3, tracker.Count("world-1"))

	// Выданные отметки не выдаются повторно
	rest := tracker.Claim("world-1", 0)
	require.Len(t, rest, 1)
	assert.Empty(t, tracker.Claim("world-1", 0))

	// Подтверждение удаляет отметку
	tracker.Ack("world-1", claimed[0].ChunkKey)
	assert.Equal(t, 2, tracker.Count("world-1"))

	// Release возвращает отметку в оборот
	tracker.Release("world-1", claimed[1].ChunkKey)
	released := tracker.Claim("world-1", 0)
	require.Len(t, released, 1)
	assert.Equal(t, claimed[1].ChunkKey, released[0].ChunkKey)
}

func TestClaimSorted(t *testing.T) {
	tracker := NewDirtyChunkTracker(nil)
	tracker.MarkDirty("world-1", []string{"2:2", "0:0", "1:1"}, "edit_apply")

	claimed := tracker.Claim("world-1", 0)
	require.Len(t, claimed, 3)
	assert.Equal(t, "0:0", claimed[0].ChunkKey)
	assert.Equal(t, "1:1", claimed[1].ChunkKey)
	assert.Equal(t, "2:2", claimed[2].ChunkKey)
}

func TestMarkDirtyEmptyKeys(t *testing.T) {
	tracker := NewDirtyChunkTracker(nil)
	tracker.MarkDirty("world-1", nil, "edit_apply")
	assert.Equal(t, 0, tracker.Count("world-1"))
}
