package terrain

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/notify"
	"github.com/annel0/terrain-engine/internal/vec"
)

// RegisterBlock — "буфер обмена" сессии: один опциональный блок для
// копирования/штамповки, независимый от координат.
type RegisterBlock struct {
	Def      BlockDef `json:"def"`
	Group    int      `json:"group"`
	Metadata string   `json:"metadata,omitempty"`
}

// EditState — состояние редактирования одной сессии. Состояния:
// INACTIVE (EditMode=false) -> ACTIVE (EditMode=true, требуется выбранный
// слой) -> INACTIVE через Change/Discard/Apply (см. методы менеджера).
type EditState struct {
	WorldID         string
	SessionID       string
	EditMode        bool
	SelectedLayerID string
	SelectedModelID string
	Register        *RegisterBlock
}

type sessionKey struct {
	worldID   string
	sessionID string
}

// EditSessionManager владеет состояниями редактирования всех сессий
// (ключ — (worldID, sessionID)) и edit-кешем слоёв. Кеш разделяется
// всеми сессиями слоя: Discard одной сессии стирает несохранённые
// правки остальных редакторов того же слоя.
type EditSessionManager struct {
	mu     sync.Mutex
	states map[sessionKey]*EditState

	cache     EditCacheRepo
	layers    LayerRepo
	chunks    *ChunkStore
	dirty     *DirtyChunkTracker
	notifier  notify.Notifier
	chunkSize ChunkSizeProvider
}

// NewEditSessionManager создаёт менеджер сессий редактирования
func NewEditSessionManager(cache EditCacheRepo, layers LayerRepo, chunks *ChunkStore, dirty *DirtyChunkTracker, notifier notify.Notifier, chunkSize ChunkSizeProvider) *EditSessionManager {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	return &EditSessionManager{
		states:    make(map[sessionKey]*EditState),
		cache:     cache,
		layers:    layers,
		chunks:    chunks,
		dirty:     dirty,
		notifier:  notifier,
		chunkSize: chunkSize,
	}
}

// State возвращает состояние сессии, создавая его при первом обращении
func (m *EditSessionManager) State(worldID, sessionID string) *EditState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked(worldID, sessionID)
}

func (m *EditSessionManager) stateLocked(worldID, sessionID string) *EditState {
	key := sessionKey{worldID: worldID, sessionID: sessionID}
	if st, ok := m.states[key]; ok {
		return st
	}
	st := &EditState{WorldID: worldID, SessionID: sessionID}
	m.states[key] = st
	return st
}

// SelectLayer выбирает слой для последующего редактирования
func (m *EditSessionManager) SelectLayer(worldID, sessionID, layerID string) error {
	layer, found, err := m.layers.GetLayer(worldID, layerID)
	if err != nil {
		return fmt.Errorf("ошибка чтения слоя %s: %w", layerID, err)
	}
	if !found {
		return fmt.Errorf("слой %s: %w", layerID, ErrLayerNotFound)
	}

	m.mu.Lock()
	st := m.stateLocked(worldID, sessionID)
	st.SelectedLayerID = layer.ID
	st.SelectedModelID = ""
	m.mu.Unlock()
	return nil
}

// SelectModel выбирает модель выбранного слоя
func (m *EditSessionManager) SelectModel(worldID, sessionID, modelID string) error {
	_, found, err := m.layers.GetModel(worldID, modelID)
	if err != nil {
		return fmt.Errorf("ошибка чтения модели %s: %w", modelID, err)
	}
	if !found {
		return fmt.Errorf("модель %s: %w", modelID, ErrModelNotFound)
	}

	m.mu.Lock()
	m.stateLocked(worldID, sessionID).SelectedModelID = modelID
	m.mu.Unlock()
	return nil
}

// Activate включает режим редактирования; требует выбранный слой
func (m *EditSessionManager) Activate(worldID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(worldID, sessionID)
	if st.SelectedLayerID == "" {
		return NewValidationError("режим редактирования требует выбранного слоя")
	}
	st.EditMode = true
	return nil
}

// Change выходит из режима редактирования и сбрасывает выбор слоя/модели.
// Закешированные правки сохраняются.
func (m *EditSessionManager) Change(worldID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(worldID, sessionID)
	st.EditMode = false
	st.SelectedLayerID = ""
	st.SelectedModelID = ""
}

// UpdateBlock записывает правку блока в edit-кеш слоя. Требует активный
// режим редактирования и выбранный слой; ChunkStore не затрагивается.
// Повторная правка той же координаты перезаписывает предыдущую.
func (m *EditSessionManager) UpdateBlock(ctx context.Context, worldID, sessionID string, pos vec.Vec3, def BlockDef, group int, metadata string) error {
	if err := def.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	st := m.stateLocked(worldID, sessionID)
	if !st.EditMode || st.SelectedLayerID == "" {
		m.mu.Unlock()
		return NewValidationError("правка блока вне режима редактирования")
	}
	layerID := st.SelectedLayerID
	m.mu.Unlock()

	layer, found, err := m.layers.GetLayer(worldID, layerID)
	if err != nil {
		return fmt.Errorf("ошибка чтения слоя %s: %w", layerID, err)
	}
	if !found {
		return fmt.Errorf("слой %s: %w", layerID, ErrLayerNotFound)
	}

	return m.cache.Put(ctx, worldID, layer.LayerDataID, pos, EditEntry{
		Def:       def,
		Group:     group,
		Metadata:  metadata,
		UpdatedAt: time.Now().UTC(),
	})
}

// ApplyChanges запускает слияние закешированных правок выбранного слоя в
// ChunkStore и возвращается немедленно; завершение слияния синхронно не
// наблюдаемо. Слияние перезаписывает по координате, поэтому его повтор
// безопасен. Режим редактирования остаётся активным.
func (m *EditSessionManager) ApplyChanges(ctx context.Context, worldID, sessionID string) error {
	layer, err := m.selectedLayer(worldID, sessionID)
	if err != nil {
		return err
	}

	go func() {
		if err := m.applyChanges(context.Background(), worldID, sessionID, layer); err != nil {
			logging.Error("Ошибка применения правок слоя %s: %v", layer.LayerDataID, err)
		}
	}()
	return nil
}

// applyChanges — синхронное слияние; выделено для тестируемости
func (m *EditSessionManager) applyChanges(ctx context.Context, worldID, sessionID string, layer *Layer) error {
	count, err := m.cache.Count(ctx, worldID, layer.LayerDataID)
	if err != nil {
		return fmt.Errorf("ошибка подсчёта правок: %w", err)
	}
	if count == 0 {
		return nil
	}

	edits, err := m.cache.List(ctx, worldID, layer.LayerDataID)
	if err != nil {
		return fmt.Errorf("ошибка чтения правок: %w", err)
	}

	chunkSize := m.chunkSize.ChunkSize(worldID)

	// Группируем правки по чанкам
	byChunk := make(map[string]map[vec.Vec3]EditEntry)
	for pos, entry := range edits {
		key := ChunkKeyForPos(pos, chunkSize)
		if byChunk[key] == nil {
			byChunk[key] = make(map[vec.Vec3]EditEntry)
		}
		byChunk[key][pos] = entry
	}

	touched := make([]string, 0, len(byChunk))
	for key, chunkEdits := range byChunk {
		existing, err := m.chunks.Get(layer.LayerDataID, key)
		if err != nil {
			return fmt.Errorf("ошибка чтения чанка %s: %w", key, err)
		}

		blocks := make(map[vec.Vec3]LayerBlock, len(existing)+len(chunkEdits))
		for _, b := range existing {
			blocks[b.Pos] = b
		}
		for pos, entry := range chunkEdits {
			blocks[pos] = LayerBlock{Pos: pos, Def: entry.Def, Group: entry.Group, Metadata: entry.Metadata}
		}

		list := make([]LayerBlock, 0, len(blocks))
		for _, b := range blocks {
			list = append(list, b)
		}
		if err := m.chunks.Put(layer.LayerDataID, key, list); err != nil {
			return fmt.Errorf("ошибка записи чанка %s: %w", key, err)
		}
		touched = append(touched, key)
	}

	if _, err := m.cache.Clear(ctx, worldID, layer.LayerDataID); err != nil {
		return fmt.Errorf("ошибка очистки edit-кеша: %w", err)
	}

	m.dirty.MarkDirty(worldID, touched, "edit_apply")

	if err := m.notifier.Notify(ctx, worldID, sessionID, "edits_applied", map[string]string{
		"layer":  layer.ID,
		"blocks": strconv.Itoa(count),
	}); err != nil {
		logging.Warn("Не удалось уведомить сессию %s о применении правок: %v", sessionID, err)
	}
	return nil
}

// DiscardChanges удаляет закешированные правки слоя без слияния и
// выключает режим редактирования. Затронутые чанки помечаются dirty,
// чтобы инвалидировать устаревшие превью у всех редакторов слоя.
// Возвращает число удалённых правок.
func (m *EditSessionManager) DiscardChanges(ctx context.Context, worldID, sessionID string) (int, error) {
	layer, err := m.selectedLayer(worldID, sessionID)
	if err != nil {
		return 0, err
	}

	edits, err := m.cache.List(ctx, worldID, layer.LayerDataID)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения правок: %w", err)
	}

	chunkSize := m.chunkSize.ChunkSize(worldID)
	seen := make(map[string]struct{})
	var touched []string
	for pos := range edits {
		key := ChunkKeyForPos(pos, chunkSize)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		touched = append(touched, key)
	}

	deleted, err := m.cache.Clear(ctx, worldID, layer.LayerDataID)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки edit-кеша: %w", err)
	}

	m.mu.Lock()
	m.stateLocked(worldID, sessionID).EditMode = false
	m.mu.Unlock()

	m.dirty.MarkDirty(worldID, touched, "edit_discard")
	return deleted, nil
}

// SetRegister кладёт блок в регистр сессии; идентификатор типа обязателен,
// дальнейшая валидация не выполняется
func (m *EditSessionManager) SetRegister(worldID, sessionID string, block RegisterBlock) error {
	if block.Def == "" {
		return NewValidationError("регистр требует идентификатор типа блока")
	}

	m.mu.Lock()
	m.stateLocked(worldID, sessionID).Register = &block
	m.mu.Unlock()
	return nil
}

// GetRegister возвращает блок регистра сессии
func (m *EditSessionManager) GetRegister(worldID, sessionID string) (RegisterBlock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateLocked(worldID, sessionID)
	if st.Register == nil {
		return RegisterBlock{}, false
	}
	return *st.Register, true
}

// ClearRegister очищает регистр сессии
func (m *EditSessionManager) ClearRegister(worldID, sessionID string) {
	m.mu.Lock()
	m.stateLocked(worldID, sessionID).Register = nil
	m.mu.Unlock()
}

// selectedLayer возвращает слой, выбранный сессией
func (m *EditSessionManager) selectedLayer(worldID, sessionID string) (*Layer, error) {
	m.mu.Lock()
	layerID := m.stateLocked(worldID, sessionID).SelectedLayerID
	m.mu.Unlock()

	if layerID == "" {
		return nil, NewValidationError("слой не выбран")
	}

	layer, found, err := m.layers.GetLayer(worldID, layerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения слоя %s: %w", layerID, err)
	}
	if !found {
		return nil, fmt.Errorf("слой %s: %w", layerID, ErrLayerNotFound)
	}
	return layer, nil
}
