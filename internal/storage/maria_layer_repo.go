package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/annel0/terrain-engine/internal/terrain"
	"github.com/annel0/terrain-engine/internal/vec"
)

// MariaLayerRepo реализует terrain.LayerRepo для базы данных
// MariaDB/MySQL. Метаданные слоёв лежат в terrain_layers, модели — в
// terrain_models; содержимое моделей сериализуется в JSON-колонку.
type MariaLayerRepo struct {
	db *sql.DB
}

// NewMariaLayerRepo создает репозиторий слоёв для MariaDB.
// Автоматически создает таблицы, если они не существуют.
//
// Параметры:
//
//	dsn - строка подключения к базе данных (user:pass@tcp(host:port)/dbname)
func NewMariaLayerRepo(dsn string) (*MariaLayerRepo, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось проверить соединение с MariaDB: %w", err)
	}

	repo := &MariaLayerRepo{db: db}

	if err := repo.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать таблицы: %w", err)
	}

	return repo, nil
}

func (r *MariaLayerRepo) createTables() error {
	layers := `
		CREATE TABLE IF NOT EXISTS terrain_layers (
			id              VARCHAR(36)  PRIMARY KEY,
			world_id        VARCHAR(64)  NOT NULL,
			name            VARCHAR(128) NOT NULL,
			kind            VARCHAR(16)  NOT NULL,
			layer_data_id   VARCHAR(36)  NOT NULL,
			layer_order     INT          NOT NULL DEFAULT 0,
			all_chunks      BOOLEAN      NOT NULL DEFAULT FALSE,
			affected_chunks JSON,
			base_ground     BOOLEAN      NOT NULL DEFAULT FALSE,
			groups_json     JSON,
			enabled         BOOLEAN      NOT NULL DEFAULT TRUE,
			created_at      TIMESTAMP    DEFAULT CURRENT_TIMESTAMP,
			updated_at      TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			                ON UPDATE    CURRENT_TIMESTAMP,
			UNIQUE KEY uniq_world_name (world_id, name),
			INDEX idx_world (world_id)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(layers); err != nil {
		return fmt.Errorf("ошибка создания таблицы terrain_layers: %w", err)
	}

	models := `
		CREATE TABLE IF NOT EXISTS terrain_models (
			id                 VARCHAR(36)  PRIMARY KEY,
			world_id           VARCHAR(64)  NOT NULL,
			layer_data_id      VARCHAR(36)  NOT NULL,
			name               VARCHAR(128) NOT NULL,
			title              VARCHAR(255),
			mount_x            INT          NOT NULL,
			mount_y            INT          NOT NULL,
			mount_z            INT          NOT NULL,
			rotation           TINYINT      NOT NULL DEFAULT 0,
			reference_model_id VARCHAR(36),
			model_order        INT          NOT NULL DEFAULT 0,
			content            JSON,
			groups_json        JSON,
			created_at         TIMESTAMP    DEFAULT CURRENT_TIMESTAMP,
			updated_at         TIMESTAMP    DEFAULT CURRENT_TIMESTAMP
			                   ON UPDATE    CURRENT_TIMESTAMP,
			INDEX idx_layer_data (layer_data_id),
			INDEX idx_world (world_id)
		) ENGINE=InnoDB
	`
	if _, err := r.db.Exec(models); err != nil {
		return fmt.Errorf("ошибка создания таблицы terrain_models: %w", err)
	}

	return nil
}

// SaveLayer сохраняет слой (insert или update)
func (r *MariaLayerRepo) SaveLayer(layer *terrain.Layer) error {
	affected, err := json.Marshal(layer.AffectedChunks)
	if err != nil {
		return fmt.Errorf("ошибка сериализации affected_chunks: %w", err)
	}
	groups, err := json.Marshal(layer.Groups)
	if err != nil {
		return fmt.Errorf("ошибка сериализации групп слоя: %w", err)
	}

	query := `
		INSERT INTO terrain_layers
			(id, world_id, name, kind, layer_data_id, layer_order,
			 all_chunks, affected_chunks, base_ground, groups_json, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			layer_order = VALUES(layer_order),
			all_chunks = VALUES(all_chunks),
			affected_chunks = VALUES(affected_chunks),
			base_ground = VALUES(base_ground),
			groups_json = VALUES(groups_json),
			enabled = VALUES(enabled)
	`
	_, err = r.db.Exec(query,
		layer.ID, layer.WorldID, layer.Name, string(layer.Kind), layer.LayerDataID,
		layer.Order, layer.AllChunks, affected, layer.BaseGround, groups,
		layer.Enabled, layer.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения слоя %s: %w", layer.ID, err)
	}
	return nil
}

// GetLayer загружает слой мира по id
func (r *MariaLayerRepo) GetLayer(worldID, layerID string) (*terrain.Layer, bool, error) {
	query := `
		SELECT id, world_id, name, kind, layer_data_id, layer_order,
		       all_chunks, affected_chunks, base_ground, groups_json, enabled,
		       created_at, updated_at
		FROM terrain_layers WHERE world_id = ? AND id = ?
	`
	return r.scanLayer(r.db.QueryRow(query, worldID, layerID))
}

// FindLayerByName ищет слой мира по имени
func (r *MariaLayerRepo) FindLayerByName(worldID, name string) (*terrain.Layer, bool, error) {
	query := `
		SELECT id, world_id, name, kind, layer_data_id, layer_order,
		       all_chunks, affected_chunks, base_ground, groups_json, enabled,
		       created_at, updated_at
		FROM terrain_layers WHERE world_id = ? AND name = ?
	`
	return r.scanLayer(r.db.QueryRow(query, worldID, name))
}

func (r *MariaLayerRepo) scanLayer(row *sql.Row) (*terrain.Layer, bool, error) {
	var layer terrain.Layer
	var kind string
	var affected, groups []byte

	err := row.Scan(&layer.ID, &layer.WorldID, &layer.Name, &kind, &layer.LayerDataID,
		&layer.Order, &layer.AllChunks, &affected, &layer.BaseGround, &groups,
		&layer.Enabled, &layer.CreatedAt, &layer.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки слоя: %w", err)
	}

	layer.Kind = terrain.LayerKind(kind)
	if len(affected) > 0 {
		if err := json.Unmarshal(affected, &layer.AffectedChunks); err != nil {
			return nil, false, fmt.Errorf("ошибка десериализации affected_chunks: %w", err)
		}
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &layer.Groups); err != nil {
			return nil, false, fmt.Errorf("ошибка десериализации групп слоя: %w", err)
		}
	}
	return &layer, true, nil
}

// ListLayers возвращает все слои мира, отсортированные по порядку
func (r *MariaLayerRepo) ListLayers(worldID string) ([]*terrain.Layer, error) {
	query := `
		SELECT id, world_id, name, kind, layer_data_id, layer_order,
		       all_chunks, affected_chunks, base_ground, groups_json, enabled,
		       created_at, updated_at
		FROM terrain_layers WHERE world_id = ? ORDER BY layer_order, id
	`
	rows, err := r.db.Query(query, worldID)
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления слоёв мира %s: %w", worldID, err)
	}
	defer rows.Close()

	var layers []*terrain.Layer
	for rows.Next() {
		var layer terrain.Layer
		var kind string
		var affected, groups []byte

		err := rows.Scan(&layer.ID, &layer.WorldID, &layer.Name, &kind, &layer.LayerDataID,
			&layer.Order, &layer.AllChunks, &affected, &layer.BaseGround, &groups,
			&layer.Enabled, &layer.CreatedAt, &layer.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения слоя: %w", err)
		}

		layer.Kind = terrain.LayerKind(kind)
		if len(affected) > 0 {
			if err := json.Unmarshal(affected, &layer.AffectedChunks); err != nil {
				return nil, fmt.Errorf("ошибка десериализации affected_chunks: %w", err)
			}
		}
		if len(groups) > 0 {
			if err := json.Unmarshal(groups, &layer.Groups); err != nil {
				return nil, fmt.Errorf("ошибка десериализации групп слоя: %w", err)
			}
		}
		layers = append(layers, &layer)
	}
	return layers, rows.Err()
}

// DeleteLayer удаляет слой
func (r *MariaLayerRepo) DeleteLayer(worldID, layerID string) error {
	_, err := r.db.Exec(`DELETE FROM terrain_layers WHERE world_id = ? AND id = ?`, worldID, layerID)
	if err != nil {
		return fmt.Errorf("ошибка удаления слоя %s: %w", layerID, err)
	}
	return nil
}

// modelContent — форма JSON-колонки содержимого модели
type modelContent struct {
	Blocks []terrain.LayerBlock `json:"blocks"`
}

// SaveModel сохраняет модель (insert или update)
func (r *MariaLayerRepo) SaveModel(model *terrain.LayerModel) error {
	content, err := json.Marshal(modelContent{Blocks: model.Content})
	if err != nil {
		return fmt.Errorf("ошибка сериализации содержимого модели: %w", err)
	}
	groups, err := json.Marshal(model.Groups)
	if err != nil {
		return fmt.Errorf("ошибка сериализации групп модели: %w", err)
	}

	query := `
		INSERT INTO terrain_models
			(id, world_id, layer_data_id, name, title, mount_x, mount_y, mount_z,
			 rotation, reference_model_id, model_order, content, groups_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			title = VALUES(title),
			mount_x = VALUES(mount_x),
			mount_y = VALUES(mount_y),
			mount_z = VALUES(mount_z),
			rotation = VALUES(rotation),
			reference_model_id = VALUES(reference_model_id),
			model_order = VALUES(model_order),
			content = VALUES(content),
			groups_json = VALUES(groups_json)
	`
	var ref interface{}
	if model.ReferenceModelID != "" {
		ref = model.ReferenceModelID
	}
	_, err = r.db.Exec(query,
		model.ID, model.WorldID, model.LayerDataID, model.Name, model.Title,
		model.Mount.X, model.Mount.Y, model.Mount.Z, model.Rotation, ref,
		model.Order, content, groups, model.CreatedAt)
	if err != nil {
		return fmt.Errorf("ошибка сохранения модели %s: %w", model.ID, err)
	}
	return nil
}

// GetModel загружает модель мира по id
func (r *MariaLayerRepo) GetModel(worldID, modelID string) (*terrain.LayerModel, bool, error) {
	query := `
		SELECT id, world_id, layer_data_id, name, title, mount_x, mount_y, mount_z,
		       rotation, reference_model_id, model_order, content, groups_json,
		       created_at, updated_at
		FROM terrain_models WHERE world_id = ? AND id = ?
	`
	row := r.db.QueryRow(query, worldID, modelID)
	model, err := scanModel(row)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return model, true, nil
}

// ListModels возвращает все модели слоя данных
func (r *MariaLayerRepo) ListModels(layerDataID string) ([]*terrain.LayerModel, error) {
	query := `
		SELECT id, world_id, layer_data_id, name, title, mount_x, mount_y, mount_z,
		       rotation, reference_model_id, model_order, content, groups_json,
		       created_at, updated_at
		FROM terrain_models WHERE layer_data_id = ? ORDER BY model_order, id
	`
	rows, err := r.db.Query(query, layerDataID)
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления моделей слоя %s: %w", layerDataID, err)
	}
	defer rows.Close()

	var models []*terrain.LayerModel
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, model)
	}
	return models, rows.Err()
}

// DeleteModel удаляет модель
func (r *MariaLayerRepo) DeleteModel(worldID, modelID string) error {
	_, err := r.db.Exec(`DELETE FROM terrain_models WHERE world_id = ? AND id = ?`, worldID, modelID)
	if err != nil {
		return fmt.Errorf("ошибка удаления модели %s: %w", modelID, err)
	}
	return nil
}

// Close закрывает соединение с базой данных
func (r *MariaLayerRepo) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanModel(row rowScanner) (*terrain.LayerModel, error) {
	var model terrain.LayerModel
	var mx, my, mz int
	var ref sql.NullString
	var content, groups []byte
	var created, updated time.Time

	err := row.Scan(&model.ID, &model.WorldID, &model.LayerDataID, &model.Name,
		&model.Title, &mx, &my, &mz, &model.Rotation, &ref, &model.Order,
		&content, &groups, &created, &updated)
	if err != nil {
		return nil, err
	}

	model.Mount = vec.Vec3{X: mx, Y: my, Z: mz}
	model.ReferenceModelID = ref.String
	model.CreatedAt = created
	model.UpdatedAt = updated

	if len(content) > 0 {
		var mc modelContent
		if err := json.Unmarshal(content, &mc); err != nil {
			return nil, fmt.Errorf("ошибка десериализации содержимого модели %s: %w", model.ID, err)
		}
		model.Content = mc.Blocks
	}
	if len(groups) > 0 {
		if err := json.Unmarshal(groups, &model.Groups); err != nil {
			return nil, fmt.Errorf("ошибка десериализации групп модели %s: %w", model.ID, err)
		}
	}
	return &model, nil
}
