package tracker

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Константы по умолчанию для конфигурации TLEStore.
const (
	// DefaultTLEUpdateInterval интервал автообновления в режиме сервера.
	DefaultTLEUpdateInterval = 6 * time.Hour

	// DefaultTLECacheDir директория файлового кеша.
	DefaultTLECacheDir = "data/tle_cache"

	// DefaultMaxCacheAge кеш моложе этого используется без обращения к Celestrak.
	DefaultMaxCacheAge = 6 * time.Hour

	// DefaultMaxTLEAgeDays возраст элементов, после которого они считаются устаревшими.
	DefaultMaxTLEAgeDays = 7.0
)

// DefaultTLEGroups группы по умолчанию.
var DefaultTLEGroups = []string{string(GroupStarlink)}

// TLEStoreConfig содержит настройки TLEStore.
type TLEStoreConfig struct {
	// Groups группы Celestrak для загрузки, например "starlink", "oneweb".
	Groups []string `yaml:"groups"`

	// UpdateInterval интервал фонового обновления.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// CacheDir директория файлового кеша.
	CacheDir string `yaml:"cache_dir"`

	// MaxCacheAge максимальный возраст кеша, при котором лента не перезагружается.
	MaxCacheAge time.Duration `yaml:"max_cache_age"`

	// MaxTLEAgeDays элементы старше считаются устаревшими (только предупреждение).
	MaxTLEAgeDays float64 `yaml:"max_tle_age_days"`

	// NoCache всегда загружать ленту заново. Кеш остаётся запасным вариантом.
	NoCache bool `yaml:"no_cache"`

	// VerifyChecksum отбрасывать записи с неверной контрольной суммой.
	VerifyChecksum bool `yaml:"verify_checksum"`
}

// DefaultTLEStoreConfig возвращает конфигурацию со значениями по умолчанию.
func DefaultTLEStoreConfig() *TLEStoreConfig {
	return &TLEStoreConfig{
		Groups:         slices.Clone(DefaultTLEGroups),
		UpdateInterval: DefaultTLEUpdateInterval,
		CacheDir:       DefaultTLECacheDir,
		MaxCacheAge:    DefaultMaxCacheAge,
		MaxTLEAgeDays:  DefaultMaxTLEAgeDays,
	}
}

// Validate заполняет пустые значения и проверяет имена групп.
func (c *TLEStoreConfig) Validate() error {
	if c.UpdateInterval < time.Minute {
		c.UpdateInterval = DefaultTLEUpdateInterval
	}
	if c.CacheDir == "" {
		c.CacheDir = DefaultTLECacheDir
	}
	if c.MaxCacheAge <= 0 {
		c.MaxCacheAge = DefaultMaxCacheAge
	}
	if c.MaxTLEAgeDays <= 0 {
		c.MaxTLEAgeDays = DefaultMaxTLEAgeDays
	}
	if len(c.Groups) == 0 {
		c.Groups = slices.Clone(DefaultTLEGroups)
	}

	var invalid []string
	for _, g := range c.Groups {
		if !IsValidGroup(g) {
			invalid = append(invalid, g)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("unknown TLE groups: %s (available: %s)",
			strings.Join(invalid, ", "),
			strings.Join(AvailableGroupNames(), ", "),
		)
	}

	return nil
}
