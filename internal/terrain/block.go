package terrain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/annel0/terrain-engine/internal/vec"
)

// BlockDef идентифицирует тип блока строкой вида "n:grass" или "w:stone@s:mossy".
// Префикс 'n' — нативное пространство имён, 'w' — легаси; необязательный
// суффикс "@s:<state>" задаёт вариант блока.
type BlockDef string

var blockDefRe = regexp.MustCompile(`^[nw]:[a-zA-Z0-9_]+(@s:[a-zA-Z0-9_]+)?$`)

// Validate проверяет формат идентификатора блока
func (d BlockDef) Validate() error {
	if !blockDefRe.MatchString(string(d)) {
		return NewValidationError("недопустимый идентификатор блока %q", string(d))
	}
	return nil
}

// LayerBlock — один блок слоя: определение, групповая метка для выделения
// и произвольная строка метаданных. Координаты относительные внутри
// LayerModel и абсолютные после материализации в чанк.
type LayerBlock struct {
	Pos      vec.Vec3 `json:"pos"`
	Def      BlockDef `json:"def"`
	Group    int      `json:"group"`
	Metadata string   `json:"metadata,omitempty"`
}

// ChunkKeyOf формирует ключ чанка из координат чанка: "cx:cz"
func ChunkKeyOf(cx, cz int) string {
	return fmt.Sprintf("%d:%d", cx, cz)
}

// ChunkKeyForPos возвращает ключ чанка, содержащего мировую позицию
func ChunkKeyForPos(pos vec.Vec3, chunkSize int) string {
	return ChunkKeyOf(vec.FloorDiv(pos.X, chunkSize), vec.FloorDiv(pos.Z, chunkSize))
}

// ParseChunkKey разбирает ключ "cx:cz" обратно в координаты чанка
func ParseChunkKey(key string) (vec.Vec2, error) {
	parts := strings.SplitN(key, ":", 2)
	if len(parts) != 2 {
		return vec.Vec2{}, NewValidationError("недопустимый ключ чанка %q", key)
	}
	cx, err := strconv.Atoi(parts[0])
	if err != nil {
		return vec.Vec2{}, NewValidationError("недопустимый ключ чанка %q", key)
	}
	cz, err := strconv.Atoi(parts[1])
	if err != nil {
		return vec.Vec2{}, NewValidationError("недопустимый ключ чанка %q", key)
	}
	return vec.Vec2{X: cx, Z: cz}, nil
}

// ChunkSizeProvider отдаёт размер чанка для мира (внешняя конфигурация)
type ChunkSizeProvider interface {
	ChunkSize(worldID string) int
}
