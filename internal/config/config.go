// Package config описывает конфигурацию starpass и её загрузку из YAML.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/art-injener/starpass/internal/tracker"
)

// ErrInvalidConfig невалидная конфигурация.
var ErrInvalidConfig = errors.New("invalid config")

// Наблюдатель по умолчанию: Ювяскюля, Финляндия.
const (
	DefaultLatitude     = 62.2426
	DefaultLongitude    = 25.7473
	DefaultLocationName = "Jyväskylä, Finland"
)

// DefaultMinStep минимальный шаг выборки для запросов к API.
const DefaultMinStep = 10 * time.Second

// Config корневая конфигурация.
type Config struct {
	Observer ObserverConfig         `yaml:"observer"`
	Search   SearchConfig           `yaml:"search"`
	Feed     tracker.TLEStoreConfig `yaml:"feed"`
	Output   OutputConfig           `yaml:"output"`
	Server   ServerConfig           `yaml:"server"`
	Log      LogConfig              `yaml:"log"`
}

// ObserverConfig точка наблюдения.
type ObserverConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	// Name подпись в отчётах. Пусто: имя по умолчанию для стандартных координат,
	// иначе "Custom Location".
	Name string `yaml:"name"`
}

// SearchConfig параметры поиска пролётов.
type SearchConfig struct {
	MaxDistanceKm float64       `yaml:"max_distance_km"`
	HoursAhead    float64       `yaml:"hours_ahead"`
	TimeStep      time.Duration `yaml:"time_step"`
	Model         string        `yaml:"model"`
	Workers       int           `yaml:"workers"`
	// Timeout общий лимит времени расчёта, 0 без лимита.
	Timeout time.Duration `yaml:"timeout"`
}

// OutputConfig параметры вывода.
type OutputConfig struct {
	Top            int  `yaml:"top"`
	TimezoneOffset int  `yaml:"timezone_offset"` // Часы относительно UTC.
	Color          bool `yaml:"color"`
}

// ServerConfig HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowOrigins    []string      `yaml:"allow_origins"`
	RefreshEvery    time.Duration `yaml:"refresh_every"` // Пересчёт кешированного прогноза.
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxHoursAhead   float64       `yaml:"max_hours_ahead"`
	MinStep         time.Duration `yaml:"min_step"` // Нижняя граница шага в запросе.
	ReleaseMode     bool          `yaml:"release_mode"`
	DevTemplates    bool          `yaml:"dev_templates"`
	TemplatesDir    string        `yaml:"templates_dir"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig логирование.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json или text.
}

// Default конфигурация по умолчанию.
func Default() *Config {
	return &Config{
		Observer: ObserverConfig{
			Latitude:  DefaultLatitude,
			Longitude: DefaultLongitude,
		},
		Search: SearchConfig{
			MaxDistanceKm: tracker.DefaultMaxDistanceKm,
			HoursAhead:    tracker.DefaultHoursAhead,
			TimeStep:      tracker.DefaultTimeStep,
			Model:         string(tracker.ModelKepler),
			Workers:       runtime.NumCPU(),
		},
		Feed: *tracker.DefaultTLEStoreConfig(),
		Output: OutputConfig{
			Top:            10,
			TimezoneOffset: 2,
			Color:          true,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			AllowOrigins:    []string{"*"},
			RefreshEvery:    10 * time.Minute,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    60 * time.Second,
			MaxHoursAhead:   72,
			MinStep:         DefaultMinStep,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load читает YAML поверх значений по умолчанию и проверяет результат.
// Пустой path возвращает конфигурацию по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет значения и заполняет пропущенные.
func (c *Config) Validate() error {
	if c.Observer.Latitude < -90 || c.Observer.Latitude > 90 {
		return fmt.Errorf("%w: latitude %g out of [-90, 90]", ErrInvalidConfig, c.Observer.Latitude)
	}
	if c.Observer.Longitude < -180 || c.Observer.Longitude > 180 {
		return fmt.Errorf("%w: longitude %g out of [-180, 180]", ErrInvalidConfig, c.Observer.Longitude)
	}
	if c.Search.MaxDistanceKm <= 0 {
		return fmt.Errorf("%w: max_distance_km must be positive", ErrInvalidConfig)
	}
	if c.Search.HoursAhead <= 0 {
		return fmt.Errorf("%w: hours_ahead must be positive", ErrInvalidConfig)
	}
	if c.Search.TimeStep <= 0 {
		return fmt.Errorf("%w: time_step must be positive", ErrInvalidConfig)
	}
	if _, err := tracker.ParseModel(c.Search.Model); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Search.Workers <= 0 {
		c.Search.Workers = runtime.NumCPU()
	}
	if c.Output.Top < 0 {
		c.Output.Top = 0
	}
	if c.Output.TimezoneOffset < -12 || c.Output.TimezoneOffset > 14 {
		return fmt.Errorf("%w: timezone_offset %d out of [-12, 14]", ErrInvalidConfig, c.Output.TimezoneOffset)
	}
	if c.Server.MaxHoursAhead <= 0 {
		c.Server.MaxHoursAhead = 72
	}
	if c.Server.MinStep <= 0 {
		c.Server.MinStep = DefaultMinStep
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if err := c.Feed.Validate(); err != nil {
		return fmt.Errorf("%w: feed: %w", ErrInvalidConfig, err)
	}

	return nil
}

// ObserverLocation наблюдатель в терминах трекера.
func (c *Config) ObserverLocation() tracker.Observer {
	return tracker.NewObserver(c.Observer.Latitude, c.Observer.Longitude, 0)
}

// LocationName подпись наблюдателя.
func (c *Config) LocationName() string {
	return LocationName(c.Observer.Name, c.Observer.Latitude, c.Observer.Longitude)
}

// LocationName имя по умолчанию узнаётся по координатам с допуском 0.01°.
func LocationName(name string, lat, lon float64) string {
	if name != "" {
		return name
	}
	if math.Abs(lat-DefaultLatitude) < 0.01 && math.Abs(lon-DefaultLongitude) < 0.01 {
		return DefaultLocationName
	}
	return "Custom Location"
}

// SearchParams параметры поиска от момента start.
func (c *Config) SearchParams(start time.Time) tracker.SearchParams {
	return tracker.SearchParams{
		Start:         start,
		MaxDistanceKm: c.Search.MaxDistanceKm,
		HoursAhead:    c.Search.HoursAhead,
		Step:          c.Search.TimeStep,
		Model:         tracker.Model(c.Search.Model),
	}
}
