package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/annel0/terrain-engine/internal/terrain"
)

// MongoFlatConfig содержит настройки подключения flat-репозитория к MongoDB
type MongoFlatConfig struct {
	URI        string // например mongodb://localhost:27017
	Database   string // например terrain
	Collection string // например flats
}

// MongoFlatRepo реализует terrain.FlatRepo поверх MongoDB. Документ
// flat-террейна хранится целиком: материалы, уровни и колонки вместе.
type MongoFlatRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoFlatRepo устанавливает соединение и возвращает репозиторий
func NewMongoFlatRepo(cfg MongoFlatConfig) (*MongoFlatRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "terrain"
	}
	if cfg.Collection == "" {
		cfg.Collection = "flats"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("не удалось проверить соединение с MongoDB: %w", err)
	}

	repo := &MongoFlatRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}

	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoFlatRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys: bson.D{
			{Key: "world_id", Value: 1},
			{Key: "layer_data_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("world_layer_unique"),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, idx)
	return err
}

// Save полностью замещает документ flat-террейна
func (m *MongoFlatRepo) Save(flat *terrain.Flat) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	filter := bson.M{"world_id": flat.WorldID, "layer_data_id": flat.LayerDataID}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.collection.ReplaceOne(ctx, filter, flat, opts); err != nil {
		return fmt.Errorf("ошибка сохранения flat-террейна %s/%s: %w", flat.WorldID, flat.LayerDataID, err)
	}
	return nil
}

// Get загружает flat-террейн слоя
func (m *MongoFlatRepo) Get(worldID, layerDataID string) (*terrain.Flat, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	filter := bson.M{"world_id": worldID, "layer_data_id": layerDataID}
	var flat terrain.Flat
	err := m.collection.FindOne(ctx, filter).Decode(&flat)
	if err == mongo.ErrNoDocuments {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ошибка загрузки flat-террейна %s/%s: %w", worldID, layerDataID, err)
	}
	return &flat, true, nil
}

// Delete удаляет flat-террейн слоя
func (m *MongoFlatRepo) Delete(worldID, layerDataID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()

	filter := bson.M{"world_id": worldID, "layer_data_id": layerDataID}
	if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("ошибка удаления flat-террейна %s/%s: %w", worldID, layerDataID, err)
	}
	return nil
}

// Close разрывает соединение с MongoDB
func (m *MongoFlatRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
