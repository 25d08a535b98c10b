package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	cacheMetaFilename = "cache_meta.json"
	tleCacheExtension = ".tle"
)

// ErrLoadGroupFailed ошибка при загрузке группы TLE.
var ErrLoadGroupFailed = errors.New("failed to load TLE group")

// Source откуда загружена группа.
type Source string

// Источники ленты.
const (
	SourceCelestrak  Source = "celestrak"
	SourceCache      Source = "cache"
	SourceStaleCache Source = "stale-cache"
)

// GroupInfo сведения о последней загрузке группы.
type GroupInfo struct {
	Source    Source    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
	Count     int       `json:"count"`
	Dropped   int       `json:"dropped"`
}

// TLEStore in-memory каталог записей ленты с индексами и файловым кешем.
type TLEStore struct {
	mu sync.RWMutex

	// NORAD ID -> запись.
	catalog map[int]SatelliteRecord

	// group -> NORAD ID в порядке ленты.
	byGroup map[string][]int

	// lowercase name -> NORAD ID.
	byName map[string][]int

	groupInfo map[string]GroupInfo

	client *CelestrakClient
	config *TLEStoreConfig
	logger *slog.Logger
	now    func() time.Time

	started atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// CacheMeta метаданные файлового кеша.
type CacheMeta struct {
	Groups map[string]CacheGroupMeta `json:"groups"`
}

// CacheGroupMeta метаданные группы в кеше.
type CacheGroupMeta struct {
	UpdatedAt time.Time `json:"updated_at"`
	Count     int       `json:"count"`
}

// TLEStoreOption функция настройки TLEStore.
type TLEStoreOption func(*TLEStore)

// WithLogger логгер для TLEStore.
func WithLogger(logger *slog.Logger) TLEStoreOption {
	return func(s *TLEStore) {
		s.logger = logger
	}
}

// WithCelestrakClient устанавливает клиент Celestrak.
func WithCelestrakClient(client *CelestrakClient) TLEStoreOption {
	return func(s *TLEStore) {
		s.client = client
	}
}

// WithClock подменяет источник времени (для тестов кеша).
func WithClock(now func() time.Time) TLEStoreOption {
	return func(s *TLEStore) {
		s.now = now
	}
}

// NewTLEStore создаёт новый TLEStore.
func NewTLEStore(cfg *TLEStoreConfig, opts ...TLEStoreOption) *TLEStore {
	if cfg == nil {
		cfg = DefaultTLEStoreConfig()
	}

	s := &TLEStore{
		catalog:   make(map[int]SatelliteRecord),
		byGroup:   make(map[string][]int),
		byName:    make(map[string][]int),
		groupInfo: make(map[string]GroupInfo),
		config:    cfg,
		client:    NewCelestrakClient(),
		logger:    slog.Default(),
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start загружает группы и запускает фоновое обновление.
func (s *TLEStore) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "starting TLEStore",
		"groups", s.config.Groups,
		"update_interval", s.config.UpdateInterval,
	)

	if err := s.LoadAllGroups(ctx); err != nil {
		// Работаем с тем, что удалось загрузить.
		s.logger.WarnContext(ctx, "initial TLE load had errors", "error", err)
	}

	s.started.Store(true)
	go s.startUpdater(ctx)

	return nil
}

// Stop останавливает фоновое обновление.
func (s *TLEStore) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.logger.Info("stopping TLEStore")
	close(s.stopCh)
	<-s.doneCh
	s.logger.Info("TLEStore stopped")
}

// Get возвращает запись по NORAD ID.
func (s *TLEStore) Get(noradID int) (SatelliteRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.catalog[noradID]
	return rec, ok
}

// GetByGroup возвращает записи группы в порядке ленты.
func (s *TLEStore) GetByGroup(group string) []SatelliteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(s.byGroup[strings.ToLower(group)])
}

// GetByName ищет по имени: сначала точное совпадение, затем подстрока.
func (s *TLEStore) GetByName(name string) []SatelliteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lowerName := strings.ToLower(name)
	if ids, ok := s.byName[lowerName]; ok {
		return s.collect(ids)
	}

	var ids []int
	for id, rec := range s.catalog {
		if strings.Contains(strings.ToLower(rec.Name), lowerName) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return s.collect(ids)
}

// All возвращает все записи, упорядоченные по NORAD ID.
func (s *TLEStore) All() []SatelliteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collect(slices.Sorted(maps.Keys(s.catalog)))
}

// Records записи всех настроенных групп в порядке конфигурации, без дублей.
func (s *TLEStore) Records() []SatelliteRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int]bool)
	var ids []int
	for _, g := range s.config.Groups {
		for _, id := range s.byGroup[strings.ToLower(g)] {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return s.collect(ids)
}

func (s *TLEStore) collect(ids []int) []SatelliteRecord {
	out := make([]SatelliteRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.catalog[id]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Add добавляет запись без группы.
func (s *TLEStore) Add(rec SatelliteRecord) bool {
	return s.AddWithGroup(rec, "")
}

// AddWithGroup добавляет или обновляет запись. Записи без читаемого NORAD ID отклоняются.
func (s *TLEStore) AddWithGroup(rec SatelliteRecord, group string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.addInternal(rec, group)
}

// Count возвращает количество записей.
func (s *TLEStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.catalog)
}

// StaleCount количество записей с эпохой старше MaxTLEAgeDays.
func (s *TLEStore) StaleCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	count := 0
	for _, rec := range s.catalog {
		el, err := DecodeElements(rec.Line1, rec.Line2)
		if err != nil || el.IsStale(now, s.config.MaxTLEAgeDays) {
			count++
		}
	}
	return count
}

// Groups возвращает отсортированный список загруженных групп.
func (s *TLEStore) Groups() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.byGroup))
}

// GroupCount количество записей группы.
func (s *TLEStore) GroupCount(group string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.byGroup[strings.ToLower(group)])
}

// GroupInfo сведения о последней загрузке группы.
func (s *TLEStore) GroupInfo(group string) (GroupInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.groupInfo[strings.ToLower(group)]
	return info, ok
}

// LoadAllGroups загружает все настроенные группы.
func (s *TLEStore) LoadAllGroups(ctx context.Context) error {
	var errs []error

	for _, group := range s.config.Groups {
		if err := s.LoadGroup(ctx, group); err != nil {
			s.logger.WarnContext(ctx, "failed to load group",
				"group", group,
				"error", err,
			)
			errs = append(errs, err)
		}
	}

	s.logger.InfoContext(ctx, "loaded TLE groups",
		"total_count", s.Count(),
		"groups", s.Groups(),
	)

	return errors.Join(errs...)
}

// LoadGroup загружает группу.
// Стратегия: свежий кеш, затем Celestrak с сохранением в кеш, затем устаревший кеш.
func (s *TLEStore) LoadGroup(ctx context.Context, group string) error {
	group = strings.ToLower(group)
	s.logger.DebugContext(ctx, "loading TLE group", "group", group)

	records, source, err := s.loadRecords(ctx, group)
	if err != nil {
		return err
	}

	dropped := 0
	if s.config.VerifyChecksum {
		records, dropped = FilterChecksums(records)
		if dropped > 0 {
			s.logger.WarnContext(ctx, "dropped records with invalid checksum",
				"group", group,
				"count", dropped,
			)
		}
	}

	s.mu.Lock()
	// Перезагрузка группы заменяет её состав.
	delete(s.byGroup, group)
	for _, rec := range records {
		if !s.addInternal(rec, group) {
			dropped++
		}
	}
	count := len(s.byGroup[group])
	s.groupInfo[group] = GroupInfo{
		Source:    source,
		UpdatedAt: s.now(),
		Count:     count,
		Dropped:   dropped,
	}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "loaded TLE group",
		"group", group,
		"source", source,
		"count", count,
	)

	return nil
}

func (s *TLEStore) loadRecords(ctx context.Context, group string) ([]SatelliteRecord, Source, error) {
	if !s.config.NoCache {
		meta, err := s.loadCacheMeta()
		if err != nil {
			s.logger.WarnContext(ctx, "failed to read cache meta", "error", err)
		} else if s.isCacheFresh(meta, group) {
			records, err := s.loadGroupFromCache(group)
			if err == nil {
				return records, SourceCache, nil
			}
			s.logger.WarnContext(ctx, "fresh cache unreadable", "group", group, "error", err)
		}
	}

	records, err := s.client.FetchGroup(ctx, SatelliteGroup(group))
	if err == nil {
		if saveErr := s.saveGroupToCache(group, records); saveErr != nil {
			s.logger.WarnContext(ctx, "failed to save to cache",
				"group", group,
				"error", saveErr,
			)
		}
		return records, SourceCelestrak, nil
	}

	s.logger.WarnContext(ctx, "failed to fetch from Celestrak, trying cache",
		"group", group,
		"error", err,
	)

	records, cacheErr := s.loadGroupFromCache(group)
	if cacheErr != nil {
		return nil, "", fmt.Errorf("%w: %s (celestrak: %w; cache: %w)", ErrLoadGroupFailed, group, err, cacheErr)
	}
	return records, SourceStaleCache, nil
}

// addInternal добавляет запись без блокировки.
func (s *TLEStore) addInternal(rec SatelliteRecord, group string) bool {
	id := rec.NoradID()
	if id == 0 {
		return false
	}

	s.catalog[id] = rec

	if group != "" {
		addToIndex(s.byGroup, strings.ToLower(group), id)
	}
	if rec.Name != "" {
		addToIndex(s.byName, strings.ToLower(rec.Name), id)
	}
	return true
}

// addToIndex добавляет ID в индекс, избегая дубликатов.
func addToIndex(index map[string][]int, key string, id int) {
	ids := index[key]
	if slices.Contains(ids, id) {
		return
	}
	index[key] = append(ids, id)
}

// startUpdater периодически перезагружает группы.
func (s *TLEStore) startUpdater(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "updater stopped by context")
			return
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "updater stopped by stop signal")
			return
		case <-ticker.C:
			s.logger.InfoContext(ctx, "starting scheduled TLE update")
			if err := s.LoadAllGroups(ctx); err != nil {
				s.logger.WarnContext(ctx, "scheduled TLE update had errors", "error", err)
			}
		}
	}
}

// loadCacheMeta загружает метаданные кеша. Отсутствие файла не ошибка.
func (s *TLEStore) loadCacheMeta() (*CacheMeta, error) {
	data, err := os.ReadFile(filepath.Join(s.config.CacheDir, cacheMetaFilename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &CacheMeta{Groups: make(map[string]CacheGroupMeta)}, nil
		}
		return nil, fmt.Errorf("reading cache meta: %w", err)
	}

	var meta CacheMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parsing cache meta: %w", err)
	}
	if meta.Groups == nil {
		meta.Groups = make(map[string]CacheGroupMeta)
	}

	return &meta, nil
}

// saveCacheMeta сохраняет метаданные кеша.
func (s *TLEStore) saveCacheMeta(meta *CacheMeta) error {
	if err := os.MkdirAll(s.config.CacheDir, 0750); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.config.CacheDir, cacheMetaFilename), data, 0600); err != nil {
		return fmt.Errorf("writing cache meta: %w", err)
	}

	return nil
}

// isCacheFresh кеш группы моложе MaxCacheAge.
func (s *TLEStore) isCacheFresh(meta *CacheMeta, group string) bool {
	groupMeta, ok := meta.Groups[strings.ToLower(group)]
	if !ok {
		return false
	}
	return s.now().Sub(groupMeta.UpdatedAt) < s.config.MaxCacheAge
}

func (s *TLEStore) cachePath(group string) string {
	return filepath.Join(s.config.CacheDir, strings.ToLower(group)+tleCacheExtension)
}

// loadGroupFromCache читает ленту группы из кеша.
func (s *TLEStore) loadGroupFromCache(group string) ([]SatelliteRecord, error) {
	data, err := os.ReadFile(s.cachePath(group))
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	records := ParseFeed(string(data))
	if len(records) == 0 {
		return nil, fmt.Errorf("cache file for %s has no records", group)
	}
	return records, nil
}

// saveGroupToCache пишет ленту группы в 3-line формате и обновляет метаданные.
func (s *TLEStore) saveGroupToCache(group string, records []SatelliteRecord) error {
	if err := os.MkdirAll(s.config.CacheDir, 0750); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	var builder strings.Builder
	for _, rec := range records {
		builder.WriteString(rec.String())
		builder.WriteString("\n")
	}

	if err := os.WriteFile(s.cachePath(group), []byte(builder.String()), 0600); err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}

	meta, err := s.loadCacheMeta()
	if err != nil {
		s.logger.Warn("failed to load cache meta", "error", err)
		meta = &CacheMeta{Groups: make(map[string]CacheGroupMeta)}
	}

	meta.Groups[strings.ToLower(group)] = CacheGroupMeta{
		UpdatedAt: s.now(),
		Count:     len(records),
	}

	if err := s.saveCacheMeta(meta); err != nil {
		s.logger.Warn("failed to save cache meta", "error", err)
	}

	return nil
}
