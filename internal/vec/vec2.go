package vec

import "math"

// Vec2 представляет 2D координаты в плоскости X/Z (мировые или чанковые)
type Vec2 struct {
	X, Z int
}

// FloorDiv выполняет целочисленное деление с округлением к минус бесконечности.
// Обычное деление в Go округляет к нулю, что ломает адресацию чанков
// для отрицательных координат: FloorDiv(-1, 16) == -1, а -1/16 == 0.
func FloorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// ToChunkCoords преобразует мировые координаты в координаты чанка
// для заданного размера чанка.
func (v Vec2) ToChunkCoords(chunkSize int) Vec2 {
	return Vec2{X: FloorDiv(v.X, chunkSize), Z: FloorDiv(v.Z, chunkSize)}
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Z: v.Z + other.Z}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dz*dz)
}
