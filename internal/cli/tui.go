package cli

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/saptak/screenshotnotes-sub005/pkg/changelog"
)

// List styles
var (
	listSelectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	listNormalStyle   = lipgloss.NewStyle().Foreground(colorWhite)
	listDimStyle      = lipgloss.NewStyle().Foreground(colorDim)
)

// =============================================================================
// ChangeLogModel - Interactive change-log browser
// =============================================================================

// ChangeLogModel is the bubbletea model for browsing recorded changes.
type ChangeLogModel struct {
	Records []changelog.Record
	Cursor  int
	Height  int
	Offset  int
}

// NewChangeLogModel creates a browser over the given records.
func NewChangeLogModel(records []changelog.Record) ChangeLogModel {
	return ChangeLogModel{
		Records: records,
		Cursor:  len(records) - 1, // start at the newest entry
		Height:  15,
	}
}

func (m ChangeLogModel) Init() tea.Cmd {
	return nil
}

func (m ChangeLogModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "up", "k":
			if m.Cursor > 0 {
				m.Cursor--
			}
		case "down", "j":
			if m.Cursor < len(m.Records)-1 {
				m.Cursor++
			}
		case "g", "home":
			m.Cursor = 0
		case "G", "end":
			m.Cursor = len(m.Records) - 1
		}
		if m.Cursor < m.Offset {
			m.Offset = m.Cursor
		}
		if m.Cursor >= m.Offset+m.Height {
			m.Offset = m.Cursor - m.Height + 1
		}
	case tea.WindowSizeMsg:
		m.Height = msg.Height - 8
		if m.Height < 5 {
			m.Height = 5
		}
	}
	return m, nil
}

func (m ChangeLogModel) View() string {
	var b strings.Builder

	b.WriteString(StyleTitle.Render("Change Log"))
	b.WriteString("\n")
	b.WriteString(listDimStyle.Render("↑/↓ navigate  g/G first/last  q quit"))
	b.WriteString("\n\n")

	end := m.Offset + m.Height
	if end > len(m.Records) {
		end = len(m.Records)
	}
	for i := m.Offset; i < end; i++ {
		rec := m.Records[i]
		line := fmt.Sprintf("v%-6d %-19s %-26s %s",
			rec.VersionID,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Type,
			rec.Origin)

		if i == m.Cursor {
			b.WriteString(listSelectedStyle.Render("▸ " + line))
		} else {
			b.WriteString(listNormalStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	// Detail pane for the selected record.
	if m.Cursor >= 0 && m.Cursor < len(m.Records) {
		rec := m.Records[m.Cursor]
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("record:   %s", rec.RecordID)))
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("checksum: %s", shortFingerprint(rec.Checksum))))
		b.WriteString("\n")
		b.WriteString(listDimStyle.Render(fmt.Sprintf("nodes:    %s", strings.Join(rec.NodeIDs, ", "))))
		b.WriteString("\n")
	}
	return b.String()
}

// browseChanges runs the interactive change-log browser.
func browseChanges(records []changelog.Record) error {
	p := tea.NewProgram(NewChangeLogModel(records))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("change browser: %w", err)
	}
	return nil
}
