package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/art-injener/starpass/internal/tracker"
)

const ruleWidth = 60

// Цвета категорий видимости (ANSI 256).
var categoryColors = map[tracker.Category]lipgloss.Color{
	tracker.CategoryExcellent: lipgloss.Color("42"),
	tracker.CategoryGood:      lipgloss.Color("39"),
	tracker.CategoryFair:      lipgloss.Color("214"),
	tracker.CategoryPoor:      lipgloss.Color("244"),
}

// Styles набор стилей текстового отчёта.
type Styles struct {
	Title    lipgloss.Style
	Name     lipgloss.Style
	Label    lipgloss.Style
	Muted    lipgloss.Style
	category map[tracker.Category]lipgloss.Style
}

// NewStyles цветные стили. plain отключает оформление (вывод в файл, не-TTY).
func NewStyles(plain bool) Styles {
	s := Styles{
		Title:    lipgloss.NewStyle(),
		Name:     lipgloss.NewStyle(),
		Label:    lipgloss.NewStyle(),
		Muted:    lipgloss.NewStyle(),
		category: make(map[tracker.Category]lipgloss.Style, len(categoryColors)),
	}
	for cat := range categoryColors {
		s.category[cat] = lipgloss.NewStyle()
	}
	if plain {
		return s
	}

	s.Title = s.Title.Bold(true).Foreground(lipgloss.Color("#9D4EDD"))
	s.Name = s.Name.Bold(true)
	s.Label = s.Label.Foreground(lipgloss.Color("244"))
	s.Muted = s.Muted.Foreground(lipgloss.Color("60"))
	for cat, color := range categoryColors {
		s.category[cat] = lipgloss.NewStyle().Foreground(color).Bold(cat == tracker.CategoryExcellent)
	}
	return s
}

// Category стиль категории видимости.
func (s Styles) Category(cat tracker.Category) lipgloss.Style {
	if st, ok := s.category[cat]; ok {
		return st
	}
	return lipgloss.NewStyle()
}

// TextOptions параметры текстового отчёта.
type TextOptions struct {
	TimezoneOffset int
	Top            int // 0 без ограничения.
	Styles         Styles
}

// Header шапка отчёта.
type Header struct {
	Title         string
	Observer      tracker.Observer
	MaxDistanceKm float64
	HoursAhead    float64
	GeneratedAt   time.Time
}

// WriteHeader пишет шапку отчёта.
func WriteHeader(w io.Writer, h Header, st Styles) error {
	rule := strings.Repeat("=", ruleWidth)
	var b strings.Builder

	fmt.Fprintln(&b, st.Muted.Render(rule))
	fmt.Fprintln(&b, st.Title.Render("  "+h.Title))
	fmt.Fprintln(&b, st.Muted.Render(rule))
	fmt.Fprintf(&b, "%s %s\n", st.Label.Render("Observer:    "), formatLatLon(h.Observer.Lat, h.Observer.Lon))
	fmt.Fprintf(&b, "%s %g km\n", st.Label.Render("Max distance:"), h.MaxDistanceKm)
	fmt.Fprintf(&b, "%s %g h\n", st.Label.Render("Window:      "), h.HoursAhead)
	if !h.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", st.Label.Render("Computed:    "), h.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteText пишет нумерованные блоки пролётов.
func WriteText(w io.Writer, passes []tracker.PassRecord, opts TextOptions) error {
	if len(passes) == 0 {
		_, err := fmt.Fprintln(w, "\nNo passes in the given window and distance.")
		return err
	}

	shown := passes
	if opts.Top > 0 && len(shown) > opts.Top {
		shown = shown[:opts.Top]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", opts.Styles.Title.Render(fmt.Sprintf("  NEXT %d PASSES", len(shown))))
	fmt.Fprintf(&b, "%s\n\n", opts.Styles.Muted.Render(strings.Repeat("=", ruleWidth)))

	for i, p := range shown {
		fmt.Fprintf(&b, "%d. %s\n", i+1, FormatPass(p, opts.TimezoneOffset, opts.Styles))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// FormatPass блок одного пролёта в местном времени UTC+tz.
func FormatPass(p tracker.PassRecord, tz int, st Styles) string {
	start := Local(p.StartTime, tz)
	peak := Local(p.MaxElevationTime, tz)
	end := Local(p.EndTime, tz)

	line := func(label, value string) string {
		return fmt.Sprintf("    %s %s\n", st.Label.Render(fmt.Sprintf("%-12s", label+":")), value)
	}

	var b strings.Builder
	b.WriteString(st.Name.Render(p.Satellite) + "\n")
	b.WriteString(line("Starts", fmt.Sprintf("%s (UTC%+d)", start.Format("2006-01-02 15:04:05"), tz)))
	b.WriteString(line("Appears", fmt.Sprintf("%s (%.1f°)", p.StartDirection, p.StartAzimuth)))
	b.WriteString(line("Heading", fmt.Sprintf("%s (%.1f°)", p.MovementDirection, p.MovementAzimuth)))
	b.WriteString(line("Peak", fmt.Sprintf("%s - elevation %.1f°", peak.Format("15:04:05"), p.MaxElevation)))
	b.WriteString(line("Ends", end.Format("15:04:05")))
	b.WriteString(line("Duration", fmt.Sprintf("%.1f min", p.Duration.Minutes())))
	b.WriteString(line("Closest", fmt.Sprintf("%.0f km", p.MinDistanceKm)))
	b.WriteString(line("Visibility", st.Category(p.VisibilityCategory).Render(
		fmt.Sprintf("%s (%d/100)", p.VisibilityCategory, p.VisibilityRating))))

	return b.String()
}

func formatLatLon(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns, lat = "S", -lat
	}
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%.4f°%s, %.4f°%s", lat, ns, lon, ew)
}
