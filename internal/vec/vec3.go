package vec

// Vec3 представляет позицию блока с целочисленными координатами.
// Y — высота; X/Z — горизонтальная плоскость.
type Vec3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// ToVec2 проецирует позицию на горизонтальную плоскость, игнорируя Y
func (v Vec3) ToVec2() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает другой вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Neg возвращает вектор с противоположным знаком
func (v Vec3) Neg() Vec3 {
	return Vec3{X: -v.X, Y: -v.Y, Z: -v.Z}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// RotateY поворачивает вектор вокруг оси Y на quarterTurns четвертей оборота
// против часовой стрелки (вид сверху), опора — локальный центр (0,0,0).
// Один оборот: (x, z) -> (-z, x). Координата Y не меняется.
func (v Vec3) RotateY(quarterTurns int) Vec3 {
	t := ((quarterTurns % 4) + 4) % 4
	r := v
	for i := 0; i < t; i++ {
		r = Vec3{X: -r.Z, Y: r.Y, Z: r.X}
	}
	return r
}
