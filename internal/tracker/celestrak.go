package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Константы Celestrak API.
const (
	// CelestrakBaseURL базовый URL GP API.
	CelestrakBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

	// DefaultRateLimit минимальный интервал между запросами (рекомендация Celestrak).
	DefaultRateLimit = 2 * time.Second

	// DefaultTimeout таймаут HTTP запроса.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries количество повторных попыток.
	DefaultMaxRetries = 3

	userAgent   = "starpass/1.0 (https://github.com/art-injener/starpass)"
	noGPDataMsg = "No GP data found"
)

// Ошибки Celestrak клиента.
var (
	ErrCelestrakNotFound    = errors.New("satellite data not found")
	ErrCelestrakRateLimit   = errors.New("rate limited (429)")
	ErrCelestrakServerError = errors.New("server error")
)

// SatelliteGroup группа спутников Celestrak.
type SatelliteGroup string

// Группы, для которых имеет смысл искать визуальные пролёты.
const (
	GroupStarlink   SatelliteGroup = "starlink"
	GroupOneWeb     SatelliteGroup = "oneweb"
	GroupStations   SatelliteGroup = "stations"
	GroupVisual     SatelliteGroup = "visual" // 100 самых ярких
	GroupIridium    SatelliteGroup = "iridium"
	GroupIridiumNX  SatelliteGroup = "iridium-NEXT"
	GroupGlobalstar SatelliteGroup = "globalstar"
	GroupOrbcomm    SatelliteGroup = "orbcomm"
	GroupKuiper     SatelliteGroup = "kuiper"
	GroupQianfan    SatelliteGroup = "qianfan"
	GroupAmateur    SatelliteGroup = "amateur"
	GroupCubesat    SatelliteGroup = "cubesat"
	GroupWeather    SatelliteGroup = "weather"
	GroupLastLaunch SatelliteGroup = "last-30-days"
	GroupActive     SatelliteGroup = "active"
)

// AvailableGroups возвращает список поддерживаемых групп.
func AvailableGroups() []SatelliteGroup {
	return []SatelliteGroup{
		GroupStarlink, GroupOneWeb, GroupStations, GroupVisual,
		GroupIridium, GroupIridiumNX, GroupGlobalstar, GroupOrbcomm,
		GroupKuiper, GroupQianfan, GroupAmateur, GroupCubesat,
		GroupWeather, GroupLastLaunch, GroupActive,
	}
}

// AvailableGroupNames имена групп строками.
func AvailableGroupNames() []string {
	groups := AvailableGroups()
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = string(g)
	}
	return names
}

// IsValidGroup проверяет имя группы без учёта регистра.
func IsValidGroup(name string) bool {
	for _, g := range AvailableGroups() {
		if strings.EqualFold(string(g), name) {
			return true
		}
	}
	return false
}

// CelestrakClient HTTP клиент ленты элементов.
type CelestrakClient struct {
	httpClient  *http.Client
	baseURL     string
	rateLimit   time.Duration
	maxRetries  int
	lastRequest time.Time
	mu          sync.Mutex
}

// CelestrakOption функция настройки клиента.
type CelestrakOption func(*CelestrakClient)

// WithHTTPClient устанавливает кастомный HTTP клиент.
func WithHTTPClient(client *http.Client) CelestrakOption {
	return func(c *CelestrakClient) {
		c.httpClient = client
	}
}

// WithRateLimit устанавливает интервал между запросами.
func WithRateLimit(d time.Duration) CelestrakOption {
	return func(c *CelestrakClient) {
		c.rateLimit = d
	}
}

// WithMaxRetries устанавливает количество повторных попыток.
func WithMaxRetries(n int) CelestrakOption {
	return func(c *CelestrakClient) {
		c.maxRetries = n
	}
}

// WithBaseURL устанавливает базовый URL (для тестирования).
func WithBaseURL(url string) CelestrakOption {
	return func(c *CelestrakClient) {
		c.baseURL = url
	}
}

// NewCelestrakClient создаёт новый клиент Celestrak.
func NewCelestrakClient(opts ...CelestrakOption) *CelestrakClient {
	c := &CelestrakClient{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    CelestrakBaseURL,
		rateLimit:  DefaultRateLimit,
		maxRetries: DefaultMaxRetries,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GroupURL адрес ленты группы в формате TLE.
func (c *CelestrakClient) GroupURL(group SatelliteGroup) string {
	return fmt.Sprintf("%s?GROUP=%s&FORMAT=tle", c.baseURL, group)
}

// FetchGroupText загружает ленту группы как есть.
func (c *CelestrakClient) FetchGroupText(ctx context.Context, group SatelliteGroup) (string, error) {
	data, err := c.fetch(ctx, c.GroupURL(group))
	if err != nil {
		return "", fmt.Errorf("fetching group %s: %w", group, err)
	}
	return data, nil
}

// FetchGroup загружает и группирует записи ленты.
func (c *CelestrakClient) FetchGroup(ctx context.Context, group SatelliteGroup) ([]SatelliteRecord, error) {
	data, err := c.FetchGroupText(ctx, group)
	if err != nil {
		return nil, err
	}

	records := ParseFeed(data)
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: group %s has no element records", ErrCelestrakNotFound, group)
	}
	return records, nil
}

// FetchByNoradID загружает запись одного спутника.
func (c *CelestrakClient) FetchByNoradID(ctx context.Context, noradID int) (SatelliteRecord, error) {
	url := fmt.Sprintf("%s?CATNR=%d&FORMAT=tle", c.baseURL, noradID)

	data, err := c.fetch(ctx, url)
	if err != nil {
		return SatelliteRecord{}, fmt.Errorf("fetching NORAD ID %d: %w", noradID, err)
	}

	records := ParseFeed(data)
	if len(records) == 0 {
		return SatelliteRecord{}, fmt.Errorf("%w: NORAD ID %d", ErrCelestrakNotFound, noradID)
	}
	return records[0], nil
}

// fetch выполняет HTTP запрос с rate limiting и повторами.
func (c *CelestrakClient) fetch(ctx context.Context, url string) (string, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		data, err := c.doRequest(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err

		// 404 и отмена не повторяем.
		if errors.Is(err, ErrCelestrakNotFound) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

// waitForRateLimit ждёт соблюдения rate limit.
func (c *CelestrakClient) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.rateLimit - time.Since(c.lastRequest); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	c.lastRequest = time.Now()
	return nil
}

// doRequest выполняет один HTTP запрос.
func (c *CelestrakClient) doRequest(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrCelestrakNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrCelestrakRateLimit
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: %d", ErrCelestrakServerError, resp.StatusCode)
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if strings.TrimSpace(string(body)) == noGPDataMsg {
		return "", ErrCelestrakNotFound
	}

	return string(body), nil
}
