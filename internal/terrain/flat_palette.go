package terrain

// Встроенные палитры материалов. Применение палитры сбрасывает слоты 1–9
// к предустановленным материалам; остальные слоты не трогаются.

var palettePresets = map[string]map[uint8]MaterialDefinition{
	"classic": {
		1: {BlockDef: "n:grass", NextBlockDef: "n:dirt"},
		2: {BlockDef: "n:dirt", NextBlockDef: "n:dirt"},
		3: {BlockDef: "n:stone", NextBlockDef: "n:stone"},
		4: {BlockDef: "n:sand", NextBlockDef: "n:sandstone", HasOcean: true},
		5: {BlockDef: "n:gravel", NextBlockDef: "n:stone", HasOcean: true},
		6: {BlockDef: "n:snow_grass", NextBlockDef: "n:dirt"},
		7: {BlockDef: "n:podzol", NextBlockDef: "n:dirt"},
		8: {BlockDef: "n:clay", NextBlockDef: "n:clay", HasOcean: true},
		9: {BlockDef: "w:mycelium", NextBlockDef: "w:dirt"},
	},
	"desert": {
		1: {BlockDef: "n:sand", NextBlockDef: "n:sandstone"},
		2: {BlockDef: "n:red_sand", NextBlockDef: "n:red_sandstone"},
		3: {BlockDef: "n:sandstone", NextBlockDef: "n:sandstone"},
		4: {BlockDef: "n:terracotta", NextBlockDef: "n:terracotta"},
		5: {BlockDef: "n:gravel", NextBlockDef: "n:stone"},
		6: {BlockDef: "n:stone", NextBlockDef: "n:stone"},
		7: {BlockDef: "n:sand@s:layered", NextBlockDef: "n:sandstone"},
		8: {BlockDef: "w:hardened_clay", NextBlockDef: "w:hardened_clay"},
		9: {BlockDef: "n:cactus_sand", NextBlockDef: "n:sandstone"},
	},
}

// PaletteNames возвращает имена доступных палитр
func PaletteNames() []string {
	names := make([]string, 0, len(palettePresets))
	for name := range palettePresets {
		names = append(names, name)
	}
	return names
}

// ApplyPalette сбрасывает слоты 1–9 flat'а к указанной встроенной палитре
func (fs *FlatStore) ApplyPalette(flat *Flat, presetName string) error {
	preset, ok := palettePresets[presetName]
	if !ok {
		return NewValidationError("неизвестная палитра %q", presetName)
	}

	for id, def := range preset {
		flat.Materials[id] = def.Clone()
	}
	return fs.Save(flat)
}
