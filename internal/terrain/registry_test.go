package terrain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/terrain-engine/internal/vec"
)

// recordingQueue запоминает поставленные задачи
type recordingQueue struct {
	jobs []recordedJob
}

type recordedJob struct {
	worldID    string
	executor   string
	parameters map[string]string
	priority   int
}

func (q *recordingQueue) Enqueue(worldID, executor, jobType string, parameters map[string]string, priority, maxRetries int) (string, error) {
	q.jobs = append(q.jobs, recordedJob{
		worldID:    worldID,
		executor:   executor,
		parameters: parameters,
		priority:   priority,
	})
	return "job-1", nil
}

func newTestRegistry(queue JobEnqueuer) (*LayerRegistry, *MemoryLayerRepo, *ChunkStore, *DirtyChunkTracker) {
	layers := NewMemoryLayerRepo()
	flats := NewFlatStore(NewMemoryFlatRepo())
	chunks := NewChunkStore(NewMemoryBlobStore(), NewMemoryChunkIndex(), false)
	dirty := NewDirtyChunkTracker(nil)
	comp := NewCompositor(chunks, dirty, fixedChunkSize(16))
	registry := NewLayerRegistry(layers, flats, chunks, comp, dirty, queue, fixedChunkSize(16))
	return registry, layers, chunks, dirty
}

func TestCreateLayerGround(t *testing.T) {
	registry, _, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1",
		Name:    "рельеф",
		Kind:    KindGround,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, layer.ID)
	assert.NotEmpty(t, layer.LayerDataID)
	assert.True(t, layer.Enabled)

	// GROUND-слой сразу получает flat-террейн 512x512
	flat, err := registry.Flats().Get("world-1", layer.LayerDataID)
	require.NoError(t, err)
	assert.Equal(t, 512, flat.SizeX)
	assert.Equal(t, 512, flat.SizeZ)

	// Повторное имя — конфликт
	_, err = registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1",
		Name:    "рельеф",
		Kind:    KindModel,
	})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	// То же имя в другом мире допустимо
	_, err = registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-2",
		Name:    "рельеф",
		Kind:    KindModel,
	})
	require.NoError(t, err)
}

func TestCreateLayerValidation(t *testing.T) {
	registry, _, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	_, err := registry.CreateLayer(ctx, CreateLayerParams{Name: "x", Kind: KindGround})
	require.Error(t, err)

	_, err = registry.CreateLayer(ctx, CreateLayerParams{WorldID: "w", Kind: KindGround})
	require.Error(t, err)

	_, err = registry.CreateLayer(ctx, CreateLayerParams{WorldID: "w", Name: "x", Kind: "FANCY"})
	require.Error(t, err)
}

// TestUpdateLayerImmutableFields проверяет, что LayerDataID и вид слоя
// неизменяемы после создания
func TestUpdateLayerImmutableFields(t *testing.T) {
	registry, _, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "основа", Kind: KindModel,
	})
	require.NoError(t, err)

	tampered := *layer
	tampered.LayerDataID = "другой"
	err = registry.UpdateLayer(ctx, &tampered)
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	tampered = *layer
	tampered.Kind = KindGround
	err = registry.UpdateLayer(ctx, &tampered)
	require.Error(t, err)

	// Обычное обновление проходит
	layer.Order = 7
	require.NoError(t, registry.UpdateLayer(ctx, layer))
	got, err := registry.GetLayer("world-1", layer.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Order)
}

// TestCreateModelEndToEnd: модель с точкой монтирования (5,64,5)
// материализуется в чанк "0:0" с абсолютными координатами
func TestCreateModelEndToEnd(t *testing.T) {
	registry, _, chunks, dirty := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1",
		LayerID: layer.ID,
		Name:    "дом",
		Mount:   vec.Vec3{X: 5, Y: 64, Z: 5},
		Content: []LayerBlock{
			{Pos: vec.Vec3{X: 0, Y: 0, Z: 0}, Def: "n:stone"},
			{Pos: vec.Vec3{X: 1, Y: 0, Z: 0}, Def: "n:planks"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, layer.LayerDataID, model.LayerDataID)

	blocks, err := chunks.Get(layer.LayerDataID, "0:0")
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, vec.Vec3{X: 5, Y: 64, Z: 5}, blocks[0].Pos)
	assert.Equal(t, vec.Vec3{X: 6, Y: 64, Z: 5}, blocks[1].Pos)

	_, marked := dirty.Get("world-1", "0:0")
	assert.True(t, marked)
}

func TestCreateModelValidation(t *testing.T) {
	registry, _, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	ground, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "земля", Kind: KindGround,
	})
	require.NoError(t, err)

	// Модель на GROUND-слое отклоняется
	_, err = registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: ground.ID, Name: "дом",
	})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	modelLayer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	// Недопустимый блок в содержимом отклоняется
	_, err = registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: modelLayer.ID, Name: "дом",
		Content: []LayerBlock{{Def: "плохой"}},
	})
	require.Error(t, err)

	// Поворот нормализуется в 0..3
	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: modelLayer.ID, Name: "дом", Rotation: -1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, model.Rotation)
}

// TestManualAdjustCenterInverse: сдвиг центра на d и затем на -d
// возвращает модель в исходное состояние
func TestManualAdjustCenterInverse(t *testing.T) {
	registry, _, chunks, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Mount: vec.Vec3{X: 10, Y: 64, Z: 10},
		Content: []LayerBlock{
			{Pos: vec.Vec3{X: 2, Y: 0, Z: 2}, Def: "n:stone"},
		},
	})
	require.NoError(t, err)

	before, err := chunks.Get(layer.LayerDataID, "0:0")
	require.NoError(t, err)
	require.Len(t, before, 1)
	absBefore := before[0].Pos

	offset := vec.Vec3{X: 3, Y: 1, Z: -2}
	require.NoError(t, registry.ManualAdjustCenter(ctx, "world-1", model.ID, offset))

	// Абсолютная позиция блока не изменилась
	adjusted, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, absBefore, adjusted.Content[0].Pos.Add(adjusted.Mount))

	require.NoError(t, registry.ManualAdjustCenter(ctx, "world-1", model.ID, offset.Neg()))
	restored, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Mount, restored.Mount)
	assert.Equal(t, model.Content[0].Pos, restored.Content[0].Pos)
}

// TestManualAdjustCenterRotated: для повёрнутой модели компенсация точки
// монтирования учитывает поворот, абсолютные позиции блоков сохраняются
func TestManualAdjustCenterRotated(t *testing.T) {
	registry, _, chunks, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Mount:    vec.Vec3{X: 10, Y: 64, Z: 10},
		Rotation: 1,
		Content: []LayerBlock{
			{Pos: vec.Vec3{X: 2, Y: 0, Z: 2}, Def: "n:stone"},
		},
	})
	require.NoError(t, err)

	// rotate1(2,0,2) + (10,64,10) = (-2,0,2) + (10,64,10) = (8,64,12)
	absBefore := MaterializeBlock(model, model.Content[0]).Pos
	assert.Equal(t, vec.Vec3{X: 8, Y: 64, Z: 12}, absBefore)

	offset := vec.Vec3{X: 3, Y: 0, Z: 0}
	require.NoError(t, registry.ManualAdjustCenter(ctx, "world-1", model.ID, offset))

	adjusted, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, vec.Vec3{X: 5, Y: 0, Z: 2}, adjusted.Content[0].Pos)
	assert.Equal(t, absBefore, MaterializeBlock(adjusted, adjusted.Content[0]).Pos,
		"абсолютная позиция блока не должна меняться при сдвиге центра")

	// Материализованный чанк остаётся согласованным без рематериализации
	blocks, err := chunks.Get(layer.LayerDataID, "0:0")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, absBefore, blocks[0].Pos)

	// Обратный сдвиг восстанавливает исходное состояние
	require.NoError(t, registry.ManualAdjustCenter(ctx, "world-1", model.ID, offset.Neg()))
	restored, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Mount, restored.Mount)
	assert.Equal(t, model.Content[0].Pos, restored.Content[0].Pos)
}

func TestAutoAdjustCenter(t *testing.T) {
	registry, _, _, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Mount: vec.Vec3{X: 0, Y: 64, Z: 0},
		Content: []LayerBlock{
			{Pos: vec.Vec3{X: 2, Y: 0, Z: 2}, Def: "n:stone"},
			{Pos: vec.Vec3{X: 4, Y: 0, Z: 4}, Def: "n:stone"},
		},
	})
	require.NoError(t, err)

	require.NoError(t, registry.AutoAdjustCenter(ctx, "world-1", model.ID))
	got, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)

	// Центроид (3,0,3) стал локальным началом
	assert.Equal(t, vec.Vec3{X: -1, Y: 0, Z: -1}, got.Content[0].Pos)
	assert.Equal(t, vec.Vec3{X: 1, Y: 0, Z: 1}, got.Content[1].Pos)
	assert.Equal(t, vec.Vec3{X: 3, Y: 64, Z: 3}, got.Mount)
}

func TestMoveModel(t *testing.T) {
	registry, _, chunks, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Mount:   vec.Vec3{X: 0, Y: 64, Z: 0},
		Content: []LayerBlock{{Pos: vec.Vec3{X: 1, Y: 0, Z: 1}, Def: "n:stone"}},
	})
	require.NoError(t, err)

	require.NoError(t, registry.MoveModel(ctx, "world-1", model.ID, vec.Vec3{X: 32, Y: 0, Z: 0}))

	// Старый чанк пуст, новый материализован
	blocks, err := chunks.Get(layer.LayerDataID, "0:0")
	require.NoError(t, err)
	assert.Empty(t, blocks)

	blocks, err = chunks.Get(layer.LayerDataID, "2:0")
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, vec.Vec3{X: 33, Y: 64, Z: 1}, blocks[0].Pos)

	// Точка монтирования не изменилась
	moved, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, model.Mount, moved.Mount)
}

// TestCopyModel проверяет глубокое копирование модели в слой другого мира
func TestCopyModel(t *testing.T) {
	registry, _, chunks, _ := newTestRegistry(nil)
	ctx := context.Background()

	src, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)
	dst, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-2", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)

	model, err := registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: src.ID, Name: "маяк",
		Mount:   vec.Vec3{X: 5, Y: 64, Z: 5},
		Content: []LayerBlock{{Pos: vec.Vec3{}, Def: "n:stone"}},
	})
	require.NoError(t, err)

	copied, err := registry.CopyModel(ctx, "world-1", model.ID, "world-2", dst.ID, "маяк-копия")
	require.NoError(t, err)
	assert.Equal(t, dst.LayerDataID, copied.LayerDataID)
	assert.Equal(t, model.ID, copied.ReferenceModelID)
	assert.NotEqual(t, model.ID, copied.ID)

	// Копия — глубокая: изменение копии не трогает оригинал
	copied.Content[0].Def = "n:dirt"
	original, err := registry.GetModel("world-1", model.ID)
	require.NoError(t, err)
	assert.Equal(t, BlockDef("n:stone"), original.Content[0].Def)

	// Целевой слой материализован
	blocks, err := chunks.Get(dst.LayerDataID, "0:0")
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	// Копирование в несуществующий слой — ошибка
	_, err = registry.CopyModel(ctx, "world-1", model.ID, "world-3", "нет", "имя")
	require.ErrorIs(t, err, ErrLayerNotFound)
}

// TestRegenerateLayerDispatch проверяет маршрутизацию регенерации
func TestRegenerateLayerDispatch(t *testing.T) {
	queue := &recordingQueue{}
	registry, _, _, dirty := newTestRegistry(queue)
	ctx := context.Background()

	// GROUND с явным списком чанков: только отметки dirty, без задачи
	partial, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "частичный", Kind: KindGround,
		AffectedChunks: []string{"0:0", "1:1"},
	})
	require.NoError(t, err)
	require.NoError(t, registry.RegenerateLayer(ctx, "world-1", partial.ID))
	assert.Empty(t, queue.jobs)
	assert.Equal(t, 2, dirty.Count("world-1"))

	// GROUND на все чанки: задача в очереди
	full, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "полный", Kind: KindGround, AllChunks: true,
	})
	require.NoError(t, err)
	require.NoError(t, registry.RegenerateLayer(ctx, "world-1", full.ID))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ExecutorRegenerateGround, queue.jobs[0].executor)
	assert.Equal(t, full.LayerDataID, queue.jobs[0].parameters["layerDataId"])
	assert.Equal(t, 5, queue.jobs[0].priority)
}

func TestDeleteLayerEnqueuesCleanup(t *testing.T) {
	queue := &recordingQueue{}
	registry, _, chunks, _ := newTestRegistry(queue)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)
	_, err = registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Content: []LayerBlock{{Pos: vec.Vec3{}, Def: "n:stone"}},
	})
	require.NoError(t, err)

	require.NoError(t, registry.DeleteLayer(ctx, "world-1", layer.ID))

	_, err = registry.GetLayer("world-1", layer.ID)
	require.ErrorIs(t, err, ErrLayerNotFound)

	// Физическая очистка ушла в очередь, чанки пока на месте
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ExecutorCleanupChunks, queue.jobs[0].executor)
	keys, err := chunks.Keys(layer.LayerDataID)
	require.NoError(t, err)
	assert.NotEmpty(t, keys)
}

// Без очереди удаление чистит чанки синхронно
func TestDeleteLayerSyncCleanup(t *testing.T) {
	registry, _, chunks, _ := newTestRegistry(nil)
	ctx := context.Background()

	layer, err := registry.CreateLayer(ctx, CreateLayerParams{
		WorldID: "world-1", Name: "постройки", Kind: KindModel,
	})
	require.NoError(t, err)
	_, err = registry.CreateModel(ctx, CreateModelParams{
		WorldID: "world-1", LayerID: layer.ID, Name: "дом",
		Content: []LayerBlock{{Pos: vec.Vec3{}, Def: "n:stone"}},
	})
	require.NoError(t, err)

	require.NoError(t, registry.DeleteLayer(ctx, "world-1", layer.ID))
	keys, err := chunks.Keys(layer.LayerDataID)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDuplicateWorldValidation(t *testing.T) {
	queue := &recordingQueue{}
	registry, _, _, _ := newTestRegistry(queue)
	ctx := context.Background()

	_, err := registry.DuplicateWorld(ctx, "world-1", "world-1")
	require.Error(t, err)
	_, err = registry.DuplicateWorld(ctx, "world-1", "")
	require.Error(t, err)

	jobID, err := registry.DuplicateWorld(ctx, "world-1", "world-2")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, ExecutorDuplicateWorld, queue.jobs[0].executor)
	assert.Equal(t, "world-2", queue.jobs[0].parameters["targetWorldId"])
}
