package terrain

import (
	"github.com/aquilax/go-perlin"
)

// GenerateOptions — параметры заполнения карты высот шумом Перлина
type GenerateOptions struct {
	Seed      int64
	Scale     float64 // размер деталей рельефа; меньше — крупнее формы
	BaseLevel int     // средний уровень поверхности
	Amplitude int     // максимальное отклонение от BaseLevel
}

// GenerateLevels заполняет карту высот flat'а шумом Перлина.
// Генерация детерминирована: одинаковые параметры всегда дают
// одинаковую сетку уровней. Материалы и колонки не меняются.
func (fs *FlatStore) GenerateLevels(flat *Flat, opts GenerateOptions) error {
	if opts.Scale <= 0 {
		opts.Scale = 0.05
	}
	if opts.BaseLevel == 0 {
		opts.BaseLevel = 64
	}
	if opts.Amplitude <= 0 {
		opts.Amplitude = 16
	}

	noise := perlin.NewPerlin(2.0, 2.0, 3, opts.Seed)

	for z := 0; z < flat.SizeZ; z++ {
		for x := 0; x < flat.SizeX; x++ {
			// Noise2D возвращает значение в диапазоне -1..1
			n := noise.Noise2D(float64(x)*opts.Scale, float64(z)*opts.Scale)
			level := opts.BaseLevel + int(n*float64(opts.Amplitude))
			if level < 0 {
				level = 0
			}
			if level > 255 {
				level = 255
			}
			flat.Levels[z*flat.SizeX+x] = uint8(level)
		}
	}

	return fs.Save(flat)
}
