package main

import (
	"context"
	"fmt"

	"github.com/annel0/terrain-engine/internal/jobs"
	"github.com/annel0/terrain-engine/internal/logging"
	"github.com/annel0/terrain-engine/internal/terrain"
	"github.com/annel0/terrain-engine/internal/vec"
)

// registerExecutors привязывает фоновые операции движка к именам задач
func registerExecutors(reg *jobs.ExecutorRegistry, registry *terrain.LayerRegistry,
	layers terrain.LayerRepo, chunks *terrain.ChunkStore, flats *terrain.FlatStore,
	dirty *terrain.DirtyChunkTracker, chunkSize terrain.ChunkSizeProvider) {

	// Полная регенерация GROUND-слоя: dirty помечается весь chunk-footprint
	// flat-сетки плюс материализованные чанки за её пределами
	reg.Register(terrain.ExecutorRegenerateGround, func(ctx context.Context, job *jobs.Job) (string, error) {
		layerDataID := job.Parameters["layerDataId"]
		if layerDataID == "" {
			return "", fmt.Errorf("параметр layerDataId обязателен")
		}

		flat, err := flats.Get(job.WorldID, layerDataID)
		if err != nil {
			return "", fmt.Errorf("ошибка чтения flat слоя %s: %w", layerDataID, err)
		}

		affected := make(map[string]struct{})
		size := chunkSize.ChunkSize(job.WorldID)
		for cx := 0; cx <= vec.FloorDiv(flat.SizeX-1, size); cx++ {
			for cz := 0; cz <= vec.FloorDiv(flat.SizeZ-1, size); cz++ {
				affected[terrain.ChunkKeyOf(cx, cz)] = struct{}{}
			}
		}

		keys, err := chunks.Keys(layerDataID)
		if err != nil {
			return "", fmt.Errorf("ошибка перечисления чанков слоя %s: %w", layerDataID, err)
		}
		for _, key := range keys {
			affected[key] = struct{}{}
		}

		all := make([]string, 0, len(affected))
		for key := range affected {
			all = append(all, key)
		}
		dirty.MarkDirty(job.WorldID, all, "ground_regenerate")
		return fmt.Sprintf("помечено dirty %d чанков", len(all)), nil
	})

	// Рематериализация MODEL-слоя из его моделей
	reg.Register(terrain.ExecutorRecreateModel, func(ctx context.Context, job *jobs.Job) (string, error) {
		layerID := job.Parameters["layerId"]
		if layerID == "" {
			return "", fmt.Errorf("параметр layerId обязателен")
		}
		if err := registry.RegenerateLayer(ctx, job.WorldID, layerID); err != nil {
			return "", err
		}
		return "слой рематериализован", nil
	})

	// Очистка чанков удалённого слоя
	reg.Register(terrain.ExecutorCleanupChunks, func(ctx context.Context, job *jobs.Job) (string, error) {
		layerDataID := job.Parameters["layerDataId"]
		if layerDataID == "" {
			return "", fmt.Errorf("параметр layerDataId обязателен")
		}
		deleted, err := chunks.DeleteAll(layerDataID)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("удалено %d чанков", deleted), nil
	})

	// Дублирование мира: слои, flat-террейны и модели копируются в
	// целевой мир с новыми идентификаторами
	reg.Register(terrain.ExecutorDuplicateWorld, func(ctx context.Context, job *jobs.Job) (string, error) {
		targetWorldID := job.Parameters["targetWorldId"]
		if targetWorldID == "" {
			return "", fmt.Errorf("параметр targetWorldId обязателен")
		}

		sourceLayers, err := registry.ListLayers(job.WorldID)
		if err != nil {
			return "", fmt.Errorf("ошибка перечисления слоёв мира %s: %w", job.WorldID, err)
		}

		copied := 0
		for _, layer := range sourceLayers {
			newLayer, err := registry.CreateLayer(ctx, terrain.CreateLayerParams{
				WorldID:        targetWorldID,
				Name:           layer.Name,
				Kind:           layer.Kind,
				Order:          layer.Order,
				AllChunks:      layer.AllChunks,
				AffectedChunks: layer.AffectedChunks,
				BaseGround:     layer.BaseGround,
				Groups:         layer.Groups,
			})
			if err != nil {
				return "", fmt.Errorf("ошибка копирования слоя %s: %w", layer.Name, err)
			}

			switch layer.Kind {
			case terrain.KindGround:
				if err := copyFlat(flats, layer, newLayer); err != nil {
					return "", err
				}
			case terrain.KindModel:
				models, err := layers.ListModels(layer.LayerDataID)
				if err != nil {
					return "", fmt.Errorf("ошибка перечисления моделей слоя %s: %w", layer.Name, err)
				}
				for _, model := range models {
					if _, err := registry.CopyModel(ctx, job.WorldID, model.ID, targetWorldID, newLayer.ID, model.Name); err != nil {
						return "", fmt.Errorf("ошибка копирования модели %s: %w", model.Name, err)
					}
				}
			}
			copied++
			logging.Debug("Слой %s скопирован в мир %s", layer.Name, targetWorldID)
		}

		return fmt.Sprintf("скопировано %d слоёв в мир %s", copied, targetWorldID), nil
	})
}

// copyFlat переносит содержимое flat-террейна исходного слоя в уже
// созданный flat целевого слоя через обменный документ
func copyFlat(flats *terrain.FlatStore, source, target *terrain.Layer) error {
	sourceFlat, err := flats.Get(source.WorldID, source.LayerDataID)
	if err != nil {
		return fmt.Errorf("ошибка чтения flat слоя %s: %w", source.Name, err)
	}
	data, err := flats.Export(sourceFlat)
	if err != nil {
		return fmt.Errorf("ошибка экспорта flat слоя %s: %w", source.Name, err)
	}

	targetFlat, err := flats.Get(target.WorldID, target.LayerDataID)
	if err != nil {
		return fmt.Errorf("ошибка чтения flat целевого слоя %s: %w", target.Name, err)
	}
	if targetFlat.SizeX != sourceFlat.SizeX || targetFlat.SizeZ != sourceFlat.SizeZ {
		targetFlat.SizeX = sourceFlat.SizeX
		targetFlat.SizeZ = sourceFlat.SizeZ
		targetFlat.Levels = make([]uint8, sourceFlat.SizeX*sourceFlat.SizeZ)
		targetFlat.Columns = make([]uint8, sourceFlat.SizeX*sourceFlat.SizeZ)
	}
	targetFlat.OceanLevel = sourceFlat.OceanLevel
	targetFlat.OceanBlockID = sourceFlat.OceanBlockID

	if err := flats.Import(targetFlat, data); err != nil {
		return fmt.Errorf("ошибка импорта flat в слой %s: %w", target.Name, err)
	}
	return nil
}
