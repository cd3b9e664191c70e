package vec

import "testing"

// TestFloorDiv тестирует деление с округлением к минус бесконечности
func TestFloorDiv(t *testing.T) {
	cases := []struct {
		a, b, want int
	}{
		{0, 16, 0},
		{15, 16, 0},
		{16, 16, 1},
		{31, 16, 1},
		{-1, 16, -1},
		{-16, 16, -1},
		{-17, 16, -2},
		{-32, 16, -2},
		{5, 8, 0},
		{-5, 8, -1},
	}

	for _, c := range cases {
		got := FloorDiv(c.a, c.b)
		if got != c.want {
			t.Errorf("FloorDiv(%d, %d) = %d, ожидалось %d", c.a, c.b, got, c.want)
		}
	}
}

// TestFloorDivContiguous проверяет, что чанковая адресация непрерывна:
// каждый чанк покрывает ровно chunkSize последовательных координат
func TestFloorDivContiguous(t *testing.T) {
	const chunkSize = 16
	prev := FloorDiv(-100, chunkSize)
	count := 1
	for x := -99; x <= 100; x++ {
		cur := FloorDiv(x, chunkSize)
		if cur == prev {
			count++
			continue
		}
		if cur != prev+1 {
			t.Fatalf("разрыв адресации на x=%d: чанк %d после %d", x, cur, prev)
		}
		if count != chunkSize {
			t.Fatalf("чанк %d покрывает %d координат, ожидалось %d", prev, count, chunkSize)
		}
		prev = cur
		count = 1
	}
}

// TestToChunkCoords тестирует преобразование мировых координат в чанковые
func TestToChunkCoords(t *testing.T) {
	cases := []struct {
		pos  Vec2
		size int
		want Vec2
	}{
		{Vec2{X: 0, Z: 0}, 16, Vec2{X: 0, Z: 0}},
		{Vec2{X: 15, Z: 15}, 16, Vec2{X: 0, Z: 0}},
		{Vec2{X: 16, Z: -1}, 16, Vec2{X: 1, Z: -1}},
		{Vec2{X: -17, Z: 33}, 16, Vec2{X: -2, Z: 2}},
		{Vec2{X: 7, Z: 7}, 8, Vec2{X: 0, Z: 0}},
		{Vec2{X: 8, Z: -8}, 8, Vec2{X: 1, Z: -1}},
	}

	for _, c := range cases {
		got := c.pos.ToChunkCoords(c.size)
		if got != c.want {
			t.Errorf("%+v.ToChunkCoords(%d) = %+v, ожидалось %+v", c.pos, c.size, got, c.want)
		}
	}
}

// TestVec3RotateY тестирует дискретный поворот вокруг оси Y
func TestVec3RotateY(t *testing.T) {
	v := Vec3{X: 2, Y: 5, Z: 1}

	// Один оборот против часовой (вид сверху): (x,z) -> (-z,x)
	r1 := v.RotateY(1)
	if r1 != (Vec3{X: -1, Y: 5, Z: 2}) {
		t.Errorf("RotateY(1) = %+v, ожидалось {-1 5 2}", r1)
	}

	// Четыре четверти — тождественное преобразование
	if got := v.RotateY(4); got != v {
		t.Errorf("RotateY(4) = %+v, ожидалось %+v", got, v)
	}

	// Отрицательные значения нормализуются: -1 эквивалентно 3
	if got, want := v.RotateY(-1), v.RotateY(3); got != want {
		t.Errorf("RotateY(-1) = %+v, RotateY(3) = %+v, должны совпадать", got, want)
	}

	// Y никогда не меняется
	for turns := -4; turns <= 8; turns++ {
		if got := v.RotateY(turns); got.Y != v.Y {
			t.Errorf("RotateY(%d) изменил Y: %d", turns, got.Y)
		}
	}
}

// TestVec3Arithmetic тестирует сложение, вычитание и отрицание
func TestVec3Arithmetic(t *testing.T) {
	a := Vec3{X: 1, Y: 2, Z: 3}
	b := Vec3{X: -4, Y: 5, Z: -6}

	if got := a.Add(b); got != (Vec3{X: -3, Y: 7, Z: -3}) {
		t.Errorf("Add: получено %+v", got)
	}
	if got := a.Sub(b); got != (Vec3{X: 5, Y: -3, Z: 9}) {
		t.Errorf("Sub: получено %+v", got)
	}
	if got := b.Neg(); got != (Vec3{X: 4, Y: -5, Z: 6}) {
		t.Errorf("Neg: получено %+v", got)
	}
	if got := a.Add(a.Neg()); got != (Vec3{}) {
		t.Errorf("Add(Neg) должно давать ноль, получено %+v", got)
	}
}
