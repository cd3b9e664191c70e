package terrain

import (
	"time"

	"github.com/annel0/terrain-engine/internal/vec"
)

// LayerKind различает способ хранения слоя: GROUND хранится как flat-террейн
// (карта высот + материалы), MODEL материализуется композитором в чанки.
type LayerKind string

const (
	KindGround LayerKind = "GROUND"
	KindModel  LayerKind = "MODEL"
)

// Valid проверяет, что вид слоя известен
func (k LayerKind) Valid() bool {
	return k == KindGround || k == KindModel
}

// Layer — именованный оверлей блочного контента, составляемый в мир.
// LayerDataID — стабильный ключ группировки физических данных слоя;
// после создания никогда не меняется.
type Layer struct {
	ID             string    `json:"id"`
	WorldID        string    `json:"worldId"`
	Name           string    `json:"name"`
	Kind           LayerKind `json:"kind"`
	LayerDataID    string    `json:"layerDataId"`
	Order          int       `json:"order"`
	AllChunks      bool      `json:"allChunks"`
	AffectedChunks []string  `json:"affectedChunks,omitempty"` // используется при AllChunks=false
	BaseGround     bool      `json:"baseGround"`
	Groups         []string  `json:"groups,omitempty"`
	Enabled        bool      `json:"enabled"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// LayerModel — источник контента MODEL-слоя: упорядоченный список блоков
// в локальных координатах, точка монтирования и дискретный поворот.
// Несколько моделей могут разделять один LayerDataID; Order задаёт
// приоритет слияния (большие значения перекрывают меньшие).
type LayerModel struct {
	ID               string       `json:"id"`
	WorldID          string       `json:"worldId"`
	LayerDataID      string       `json:"layerDataId"`
	Name             string       `json:"name"`
	Title            string       `json:"title,omitempty"`
	Mount            vec.Vec3     `json:"mount"`
	Rotation         int          `json:"rotation"` // четверти оборота против часовой вокруг +Y, 0..3
	ReferenceModelID string       `json:"referenceModelId,omitempty"`
	Order            int          `json:"order"`
	Content          []LayerBlock `json:"content"`
	Groups           []string     `json:"groups,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// CloneContent возвращает глубокую копию списка блоков модели
func (m *LayerModel) CloneContent() []LayerBlock {
	out := make([]LayerBlock, len(m.Content))
	copy(out, m.Content)
	return out
}
