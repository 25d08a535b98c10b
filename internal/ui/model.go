// Package ui живой терминальный вид предстоящих пролётов с обратным отсчётом.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/art-injener/starpass/internal/report"
	"github.com/art-injener/starpass/internal/tracker"
)

const (
	tickInterval = time.Second
	// Строки под шапку и подвал.
	chromeLines = 6
)

// TickMsg такт обновления отсчёта.
type TickMsg time.Time

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#9D4EDD"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	cursorStyle = lipgloss.NewStyle().Background(lipgloss.Color("236"))
)

// Model модель живого вида.
type Model struct {
	passes   []tracker.PassRecord
	location string
	tz       int
	styles   report.Styles

	now    time.Time
	clock  func() time.Time
	cursor int
	offset int
	width  int
	height int
}

// New создаёт модель. passes ожидаются отсортированными по началу.
func New(passes []tracker.PassRecord, location string, tz int) Model {
	return Model{
		passes:   passes,
		location: location,
		tz:       tz,
		styles:   report.NewStyles(false),
		clock:    time.Now,
		now:      time.Now(),
		height:   24,
	}
}

// WithClock подменяет источник времени.
func (m Model) WithClock(clock func() time.Time) Model {
	m.clock = clock
	m.now = clock()
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "j", "down":
			m.cursor++
		case "k", "up":
			m.cursor--
		case "g", "home":
			m.cursor = 0
		}
		m.clampCursor()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.clampCursor()

	case TickMsg:
		m.now = m.clock()
		m.clampCursor()
		return m, tickCmd()
	}

	return m, nil
}

// Upcoming пролёты, которые ещё не закончились.
func (m Model) Upcoming() []tracker.PassRecord {
	for i, p := range m.passes {
		if p.EndTime.After(m.now) {
			return m.passes[i:]
		}
	}
	return nil
}

func (m *Model) clampCursor() {
	n := len(m.Upcoming())
	m.cursor = max(0, min(m.cursor, n-1))

	rows := m.visibleRows()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+rows {
		m.offset = m.cursor - rows + 1
	}
	m.offset = max(0, m.offset)
}

func (m Model) visibleRows() int {
	return max(1, m.height-chromeLines)
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("starpass") + mutedStyle.Render(" · "+m.location) + "\n")
	b.WriteString(mutedStyle.Render(report.Local(m.now, m.tz).Format("2006-01-02 15:04:05")+fmt.Sprintf(" UTC%+d", m.tz)) + "\n\n")

	upcoming := m.Upcoming()
	if len(upcoming) == 0 {
		b.WriteString("No more passes in the window.\n")
		b.WriteString("\n" + mutedStyle.Render("q quit") + "\n")
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-14s %-24s %-9s %7s %8s  %s", "COUNTDOWN", "SATELLITE", "START", "MAX EL", "CLOSEST", "VISIBILITY")) + "\n")

	end := min(len(upcoming), m.offset+m.visibleRows())
	for i := m.offset; i < end; i++ {
		row := m.renderRow(upcoming[i])
		if i == m.cursor {
			row = cursorStyle.Render(row)
		}
		b.WriteString(row + "\n")
	}

	b.WriteString("\n" + mutedStyle.Render(fmt.Sprintf("%d/%d  j/k move · q quit", m.cursor+1, len(upcoming))) + "\n")
	return b.String()
}

func (m Model) renderRow(p tracker.PassRecord) string {
	countdown := Countdown(p, m.now)
	if !p.StartTime.After(m.now) {
		countdown = activeStyle.Render(fmt.Sprintf("%-14s", countdown))
	} else {
		countdown = fmt.Sprintf("%-14s", countdown)
	}

	name := p.Satellite
	if len(name) > 24 {
		name = name[:24]
	}

	visibility := m.styles.Category(p.VisibilityCategory).Render(
		fmt.Sprintf("%s %d", p.VisibilityCategory, p.VisibilityRating))

	return fmt.Sprintf("%s %-24s %-9s %6.1f° %5.0f km  %s",
		countdown,
		name,
		report.Local(p.StartTime, m.tz).Format("15:04:05"),
		p.MaxElevation,
		p.MinDistanceKm,
		visibility,
	)
}

// Countdown время до начала пролёта или до его конца, если он уже идёт.
func Countdown(p tracker.PassRecord, now time.Time) string {
	if !p.StartTime.After(now) {
		return "NOW " + formatDuration(p.EndTime.Sub(now))
	}
	return "in " + formatDuration(p.StartTime.Sub(now))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	h := int(d / time.Hour)
	mnt := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, mnt, s)
	}
	return fmt.Sprintf("%dm%02ds", mnt, s)
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
