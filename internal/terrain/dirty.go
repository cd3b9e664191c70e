package terrain

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/notify"
)

// DirtyChunk — отметка чанка, требующего регенерации
type DirtyChunk struct {
	WorldID  string    `json:"world_id"`
	ChunkKey string    `json:"chunk_key"`
	Reason   string    `json:"reason"`
	MarkedAt time.Time `json:"marked_at"`
}

type dirtyKey struct {
	worldID  string
	chunkKey string
}

type dirtyEntry struct {
	DirtyChunk
	claimed bool
}

// DirtyChunkTracker — идемпотентное множество устаревших чанков.
// Повторная отметка обновляет причину и время, но не создаёт дубликат.
// Потребление внешнее: регенератор забирает отметки через Claim и
// подтверждает через Ack; до подтверждения отметка не исчезает
// (at-least-once). Отметки рассылаются сессиям мира fire-and-forget.
type DirtyChunkTracker struct {
	mu       sync.Mutex
	entries  map[dirtyKey]*dirtyEntry
	notifier notify.Notifier
}

// NewDirtyChunkTracker создаёт трекер; notifier может быть nil
func NewDirtyChunkTracker(notifier notify.Notifier) *DirtyChunkTracker {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &DirtyChunkTracker{
		entries:  make(map[dirtyKey]*dirtyEntry),
		notifier: notifier,
	}
}

// MarkDirty помечает чанки мира как устаревшие. Идемпотентно.
func (t *DirtyChunkTracker) MarkDirty(worldID string, chunkKeys []string, reason string) {
	if len(chunkKeys) == 0 {
		return
	}

	now := time.Now().UTC()

	t.mu.Lock()
	for _, key := range chunkKeys {
		k := dirtyKey{worldID: worldID, chunkKey: key}
		if e, ok := t.entries[k]; ok {
			e.Reason = reason
			e.MarkedAt = now
			continue
		}
		t.entries[k] = &dirtyEntry{DirtyChunk: DirtyChunk{
			WorldID:  worldID,
			ChunkKey: key,
			Reason:   reason,
			MarkedAt: now,
		}}
	}
	t.mu.Unlock()

	getMetrics().dirtyMarked.Add(float64(len(chunkKeys)))

	// Уведомление сессий — fire-and-forget, сбой только логируем
	if err := t.notifier.Broadcast(context.Background(), worldID, "chunks_dirty", map[string]string{
		"reason": reason,
		"count":  strconv.Itoa(len(chunkKeys)),
	}); err != nil {
		logging.Warn("Не удалось разослать уведомление о dirty-чанках мира %s: %v", worldID, err)
	}
}

// Claim выдаёт регенератору до limit непретендованных отметок мира
// (limit <= 0 — все). Выданные отметки остаются в трекере до Ack.
func (t *DirtyChunkTracker) Claim(worldID string, limit int) []DirtyChunk {
	t.mu.Lock()
	defer t.mu.Unlock()

	var claimed []DirtyChunk
	for _, e := range t.entries {
		if e.WorldID != worldID || e.claimed {
			continue
		}
		e.claimed = true
		claimed = append(claimed, e.DirtyChunk)
		if limit > 0 && len(claimed) >= limit {
			break
		}
	}

	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ChunkKey < claimed[j].ChunkKey })
	return claimed
}

// Ack подтверждает регенерацию чанка и удаляет отметку
func (t *DirtyChunkTracker) Ack(worldID, chunkKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, dirtyKey{worldID: worldID, chunkKey: chunkKey})
}

// Release возвращает отметку после неудачной регенерации:
// чанк снова доступен для Claim
func (t *DirtyChunkTracker) Release(worldID, chunkKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[dirtyKey{worldID: worldID, chunkKey: chunkKey}]; ok {
		e.claimed = false
	}
}

// Get возвращает отметку чанка, если она есть
func (t *DirtyChunkTracker) Get(worldID, chunkKey string) (DirtyChunk, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[dirtyKey{worldID: worldID, chunkKey: chunkKey}]; ok {
		return e.DirtyChunk, true
	}
	return DirtyChunk{}, false
}

// Count возвращает число отметок мира
func (t *DirtyChunkTracker) Count(worldID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	count := 0
	for _, e := range t.entries {
		if e.WorldID == worldID {
			count++
		}
	}
	return count
}
