package terrain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/vec"
)

// LayerRepo — персистентное хранилище метаданных слоёв и моделей
type LayerRepo interface {
	SaveLayer(layer *Layer) error
	GetLayer(worldID, layerID string) (*Layer, bool, error)
	FindLayerByName(worldID, name string) (*Layer, bool, error)
	ListLayers(worldID string) ([]*Layer, error)
	DeleteLayer(worldID, layerID string) error

	SaveModel(model *LayerModel) error
	GetModel(worldID, modelID string) (*LayerModel, bool, error)
	ListModels(layerDataID string) ([]*LayerModel, error)
	DeleteModel(worldID, modelID string) error
}

// JobEnqueuer ставит асинхронную операцию в очередь; возвращает id задачи
type JobEnqueuer interface {
	Enqueue(worldID, executor, jobType string, parameters map[string]string, priority, maxRetries int) (string, error)
}

// Имена исполнителей фоновых операций
const (
	ExecutorRegenerateGround = "regenerate-ground-layer"
	ExecutorRecreateModel    = "recreate-model-based-layer"
	ExecutorCleanupChunks    = "cleanup-terrain-chunks"
	ExecutorDuplicateWorld   = "duplicate-world"
)

// LayerRegistry владеет метаданными Layer/LayerModel и оркестрирует
// остальные компоненты: GROUND-слои получают flat-террейн, MODEL-слои
// материализуются композитором; дорогие массовые операции уходят в
// очередь задач.
type LayerRegistry struct {
	layers     LayerRepo
	flats      *FlatStore
	chunks     *ChunkStore
	compositor *Compositor
	dirty      *DirtyChunkTracker
	jobs       JobEnqueuer // может быть nil: массовые операции недоступны
	chunkSize  ChunkSizeProvider
}

// NewLayerRegistry создаёт реестр слоёв
func NewLayerRegistry(layers LayerRepo, flats *FlatStore, chunks *ChunkStore, compositor *Compositor, dirty *DirtyChunkTracker, jobs JobEnqueuer, chunkSize ChunkSizeProvider) *LayerRegistry {
	return &LayerRegistry{
		layers:     layers,
		flats:      flats,
		chunks:     chunks,
		compositor: compositor,
		dirty:      dirty,
		jobs:       jobs,
		chunkSize:  chunkSize,
	}
}

// CreateLayerParams — параметры создания слоя
type CreateLayerParams struct {
	WorldID        string
	Name           string
	Kind           LayerKind
	Order          int
	AllChunks      bool
	AffectedChunks []string
	BaseGround     bool
	Groups         []string

	// Размер flat-сетки для GROUND-слоёв; по умолчанию 512x512
	FlatSizeX int
	FlatSizeZ int
}

// CreateLayer создаёт слой. LayerDataID генерируется и после создания
// не меняется. Для GROUND-слоя сразу создаётся flat-террейн.
func (r *LayerRegistry) CreateLayer(ctx context.Context, p CreateLayerParams) (*Layer, error) {
	if p.WorldID == "" {
		return nil, NewValidationError("worldID обязателен")
	}
	if p.Name == "" {
		return nil, NewValidationError("имя слоя обязательно")
	}
	if !p.Kind.Valid() {
		return nil, NewValidationError("неизвестный вид слоя %q", string(p.Kind))
	}

	if _, exists, err := r.layers.FindLayerByName(p.WorldID, p.Name); err != nil {
		return nil, fmt.Errorf("ошибка проверки имени слоя: %w", err)
	} else if exists {
		return nil, &ConflictError{Resource: "слой", Key: p.Name}
	}

	now := time.Now().UTC()
	layer := &Layer{
		ID:             uuid.NewString(),
		WorldID:        p.WorldID,
		Name:           p.Name,
		Kind:           p.Kind,
		LayerDataID:    uuid.NewString(),
		Order:          p.Order,
		AllChunks:      p.AllChunks,
		AffectedChunks: append([]string(nil), p.AffectedChunks...),
		BaseGround:     p.BaseGround,
		Groups:         append([]string(nil), p.Groups...),
		Enabled:        true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := r.layers.SaveLayer(layer); err != nil {
		return nil, fmt.Errorf("ошибка сохранения слоя: %w", err)
	}

	if layer.Kind == KindGround {
		sizeX, sizeZ := p.FlatSizeX, p.FlatSizeZ
		if sizeX <= 0 {
			sizeX = 512
		}
		if sizeZ <= 0 {
			sizeZ = 512
		}
		if _, err := r.flats.CreateFlat(layer.WorldID, layer.LayerDataID, uuid.NewString(), sizeX, sizeZ); err != nil {
			return nil, fmt.Errorf("ошибка создания flat для слоя %s: %w", layer.ID, err)
		}
	}

	logging.Info("Создан слой %s (%s) мира %s", layer.Name, layer.Kind, layer.WorldID)
	return layer, nil
}

// GetLayer возвращает слой мира
func (r *LayerRegistry) GetLayer(worldID, layerID string) (*Layer, error) {
	layer, found, err := r.layers.GetLayer(worldID, layerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения слоя %s: %w", layerID, err)
	}
	if !found {
		return nil, fmt.Errorf("слой %s: %w", layerID, ErrLayerNotFound)
	}
	return layer, nil
}

// ListLayers возвращает слои мира
func (r *LayerRegistry) ListLayers(worldID string) ([]*Layer, error) {
	return r.layers.ListLayers(worldID)
}

// UpdateLayer сохраняет изменённые метаданные слоя.
// Попытка сменить LayerDataID или вид слоя отклоняется.
func (r *LayerRegistry) UpdateLayer(ctx context.Context, layer *Layer) error {
	existing, err := r.GetLayer(layer.WorldID, layer.ID)
	if err != nil {
		return err
	}
	if layer.LayerDataID != existing.LayerDataID {
		return NewValidationError("layerDataId неизменяем после создания")
	}
	if layer.Kind != existing.Kind {
		return NewValidationError("вид слоя неизменяем после создания")
	}

	layer.UpdatedAt = time.Now().UTC()
	return r.layers.SaveLayer(layer)
}

// DeleteLayer удаляет слой; физические данные чанков убираются фоновой
// задачей очистки, при отсутствии очереди — синхронно
func (r *LayerRegistry) DeleteLayer(ctx context.Context, worldID, layerID string) error {
	layer, err := r.GetLayer(worldID, layerID)
	if err != nil {
		return err
	}

	if err := r.layers.DeleteLayer(worldID, layerID); err != nil {
		return fmt.Errorf("ошибка удаления слоя %s: %w", layerID, err)
	}

	if layer.Kind == KindGround {
		if err := r.flats.Delete(worldID, layer.LayerDataID); err != nil {
			logging.Warn("Не удалось удалить flat слоя %s: %v", layerID, err)
		}
	}

	if r.jobs != nil {
		if _, err := r.jobs.Enqueue(worldID, ExecutorCleanupChunks, "cleanup",
			map[string]string{"layerDataId": layer.LayerDataID}, 3, 2); err != nil {
			return fmt.Errorf("ошибка постановки задачи очистки: %w", err)
		}
		return nil
	}

	if _, err := r.chunks.DeleteAll(layer.LayerDataID); err != nil {
		return fmt.Errorf("ошибка очистки чанков слоя %s: %w", layerID, err)
	}
	return nil
}

// CreateModelParams — параметры создания модели MODEL-слоя
type CreateModelParams struct {
	WorldID          string
	LayerID          string
	Name             string
	Title            string
	Mount            vec.Vec3
	Rotation         int
	ReferenceModelID string
	Order            int
	Content          []LayerBlock
	Groups           []string
}

// CreateModel создаёт модель MODEL-слоя и сразу материализует слой
func (r *LayerRegistry) CreateModel(ctx context.Context, p CreateModelParams) (*LayerModel, error) {
	layer, err := r.GetLayer(p.WorldID, p.LayerID)
	if err != nil {
		return nil, err
	}
	if layer.Kind != KindModel {
		return nil, NewValidationError("модели поддерживаются только MODEL-слоями, слой %s — %s", layer.ID, layer.Kind)
	}
	if p.Name == "" {
		return nil, NewValidationError("имя модели обязательно")
	}
	for _, b := range p.Content {
		if err := b.Def.Validate(); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	model := &LayerModel{
		ID:               uuid.NewString(),
		WorldID:          p.WorldID,
		LayerDataID:      layer.LayerDataID,
		Name:             p.Name,
		Title:            p.Title,
		Mount:            p.Mount,
		Rotation:         ((p.Rotation % 4) + 4) % 4,
		ReferenceModelID: p.ReferenceModelID,
		Order:            p.Order,
		Content:          append([]LayerBlock(nil), p.Content...),
		Groups:           append([]string(nil), p.Groups...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.layers.SaveModel(model); err != nil {
		return nil, fmt.Errorf("ошибка сохранения модели: %w", err)
	}

	if err := r.transferLayer(ctx, layer); err != nil {
		return nil, err
	}
	return model, nil
}

// GetModel возвращает модель мира
func (r *LayerRegistry) GetModel(worldID, modelID string) (*LayerModel, error) {
	model, found, err := r.layers.GetModel(worldID, modelID)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения модели %s: %w", modelID, err)
	}
	if !found {
		return nil, fmt.Errorf("модель %s: %w", modelID, ErrModelNotFound)
	}
	return model, nil
}

// UpdateModel сохраняет изменённую модель и рематериализует слой
func (r *LayerRegistry) UpdateModel(ctx context.Context, model *LayerModel) error {
	existing, err := r.GetModel(model.WorldID, model.ID)
	if err != nil {
		return err
	}
	if model.LayerDataID != existing.LayerDataID {
		return NewValidationError("layerDataId модели неизменяем")
	}
	for _, b := range model.Content {
		if err := b.Def.Validate(); err != nil {
			return err
		}
	}

	model.Rotation = ((model.Rotation % 4) + 4) % 4
	model.UpdatedAt = time.Now().UTC()
	if err := r.layers.SaveModel(model); err != nil {
		return fmt.Errorf("ошибка сохранения модели: %w", err)
	}
	return r.transferModelLayer(ctx, model.WorldID, model.LayerDataID)
}

// DeleteModel удаляет модель и рематериализует слой
func (r *LayerRegistry) DeleteModel(ctx context.Context, worldID, modelID string) error {
	model, err := r.GetModel(worldID, modelID)
	if err != nil {
		return err
	}
	if err := r.layers.DeleteModel(worldID, modelID); err != nil {
		return fmt.Errorf("ошибка удаления модели %s: %w", modelID, err)
	}
	return r.transferModelLayer(ctx, worldID, model.LayerDataID)
}

// MoveModel сдвигает все блоки модели на offset, не меняя точку
// монтирования: модель перемещается в мировом пространстве
func (r *LayerRegistry) MoveModel(ctx context.Context, worldID, modelID string, offset vec.Vec3) error {
	model, err := r.GetModel(worldID, modelID)
	if err != nil {
		return err
	}

	for i := range model.Content {
		model.Content[i].Pos = model.Content[i].Pos.Add(offset)
	}
	model.UpdatedAt = time.Now().UTC()
	if err := r.layers.SaveModel(model); err != nil {
		return fmt.Errorf("ошибка сохранения модели: %w", err)
	}
	return r.transferModelLayer(ctx, worldID, model.LayerDataID)
}

// ManualAdjustCenter сдвигает локальный центр модели: блоки смещаются на
// offset, точка монтирования компенсирует сдвиг. Локальные координаты
// проецируются в мир через поворот (rotate(pos) + mount), поэтому
// компенсация — повёрнутый offset: rotate(pos + offset) + mount -
// rotate(offset) == rotate(pos) + mount. Абсолютные позиции блоков не
// меняются, рематериализация не требуется.
func (r *LayerRegistry) ManualAdjustCenter(ctx context.Context, worldID, modelID string, offset vec.Vec3) error {
	model, err := r.GetModel(worldID, modelID)
	if err != nil {
		return err
	}

	for i := range model.Content {
		model.Content[i].Pos = model.Content[i].Pos.Add(offset)
	}
	model.Mount = model.Mount.Sub(offset.RotateY(model.Rotation))
	model.UpdatedAt = time.Now().UTC()
	return r.layers.SaveModel(model)
}

// AutoAdjustCenter переносит локальный центр модели в центроид её блоков
// (округлённое арифметическое среднее координат)
func (r *LayerRegistry) AutoAdjustCenter(ctx context.Context, worldID, modelID string) error {
	model, err := r.GetModel(worldID, modelID)
	if err != nil {
		return err
	}
	if len(model.Content) == 0 {
		return nil
	}

	var sx, sy, sz int
	for _, b := range model.Content {
		sx += b.Pos.X
		sy += b.Pos.Y
		sz += b.Pos.Z
	}
	n := len(model.Content)
	centroid := vec.Vec3{
		X: roundDiv(sx, n),
		Y: roundDiv(sy, n),
		Z: roundDiv(sz, n),
	}

	return r.ManualAdjustCenter(ctx, worldID, modelID, centroid.Neg())
}

// roundDiv делит с округлением к ближайшему целому (половины — от нуля)
func roundDiv(a, n int) int {
	if a >= 0 {
		return (a + n/2) / n
	}
	return -((-a + n/2) / n)
}

// CopyModel глубоко копирует модель под другой слой (возможно, другого
// мира) и материализует целевой слой. Отсутствующий целевой слой — ошибка.
func (r *LayerRegistry) CopyModel(ctx context.Context, worldID, sourceModelID, targetWorldID, targetLayerID, newName string) (*LayerModel, error) {
	source, err := r.GetModel(worldID, sourceModelID)
	if err != nil {
		return nil, err
	}

	target, err := r.GetLayer(targetWorldID, targetLayerID)
	if err != nil {
		return nil, err
	}
	if target.Kind != KindModel {
		return nil, NewValidationError("целевой слой %s не является MODEL-слоем", target.ID)
	}
	if newName == "" {
		return nil, NewValidationError("имя новой модели обязательно")
	}

	now := time.Now().UTC()
	copied := &LayerModel{
		ID:               uuid.NewString(),
		WorldID:          target.WorldID,
		LayerDataID:      target.LayerDataID,
		Name:             newName,
		Title:            source.Title,
		Mount:            source.Mount,
		Rotation:         source.Rotation,
		ReferenceModelID: source.ID,
		Order:            source.Order,
		Content:          source.CloneContent(),
		Groups:           append([]string(nil), source.Groups...),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.layers.SaveModel(copied); err != nil {
		return nil, fmt.Errorf("ошибка сохранения копии модели: %w", err)
	}
	if err := r.transferLayer(ctx, target); err != nil {
		return nil, err
	}
	return copied, nil
}

// RegenerateLayer инициирует регенерацию слоя. GROUND-слой с явным
// списком чанков лишь помечает их dirty — без задачи; полная регенерация
// GROUND-слоя и дорогие операции уходят в очередь. MODEL-слой
// рематериализуется композитором немедленно.
func (r *LayerRegistry) RegenerateLayer(ctx context.Context, worldID, layerID string) error {
	layer, err := r.GetLayer(worldID, layerID)
	if err != nil {
		return err
	}

	switch layer.Kind {
	case KindGround:
		if !layer.AllChunks {
			r.dirty.MarkDirty(worldID, layer.AffectedChunks, "layer_regenerate")
			return nil
		}
		if r.jobs == nil {
			return NewValidationError("полная регенерация требует очереди задач")
		}
		if _, err := r.jobs.Enqueue(worldID, ExecutorRegenerateGround, "regenerate",
			map[string]string{"layerId": layer.ID, "layerDataId": layer.LayerDataID}, 5, 3); err != nil {
			return fmt.Errorf("ошибка постановки задачи регенерации: %w", err)
		}
		return nil
	case KindModel:
		return r.transferLayer(ctx, layer)
	default:
		return NewValidationError("неизвестный вид слоя %q", string(layer.Kind))
	}
}

// DuplicateWorld ставит задачу дублирования всех слоёв мира
func (r *LayerRegistry) DuplicateWorld(ctx context.Context, worldID, targetWorldID string) (string, error) {
	if r.jobs == nil {
		return "", NewValidationError("дублирование мира требует очереди задач")
	}
	if targetWorldID == "" || targetWorldID == worldID {
		return "", NewValidationError("недопустимый целевой мир %q", targetWorldID)
	}
	return r.jobs.Enqueue(worldID, ExecutorDuplicateWorld, "duplicate",
		map[string]string{"targetWorldId": targetWorldID}, 7, 1)
}

// Flats возвращает store flat-террейнов
func (r *LayerRegistry) Flats() *FlatStore { return r.flats }

// Chunks возвращает хранилище чанков
func (r *LayerRegistry) Chunks() *ChunkStore { return r.chunks }

// transferLayer материализует MODEL-слой из всех его моделей
func (r *LayerRegistry) transferLayer(ctx context.Context, layer *Layer) error {
	models, err := r.layers.ListModels(layer.LayerDataID)
	if err != nil {
		return fmt.Errorf("ошибка перечисления моделей слоя %s: %w", layer.ID, err)
	}
	return r.compositor.Transfer(ctx, layer.WorldID, layer.LayerDataID, models)
}

// transferModelLayer материализует слой по layerDataID
func (r *LayerRegistry) transferModelLayer(ctx context.Context, worldID, layerDataID string) error {
	models, err := r.layers.ListModels(layerDataID)
	if err != nil {
		return fmt.Errorf("ошибка перечисления моделей слоя %s: %w", layerDataID, err)
	}
	return r.compositor.Transfer(ctx, worldID, layerDataID, models)
}
