package cli

import (
	"context"
	"fmt"
	"time"

	"charm.land/bubbles/v2/progress"
	tea "charm.land/bubbletea/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/docchat/internal/backend"
)

const pollInterval = time.Second

// Theme holds the color scheme for progress and transcript output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	User       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	User:       lipgloss.Color("#D7AF5F"), // amber
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) userStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.User).Bold(true)
}

// statusPoller reads ingestion progress from the backend.
type statusPoller interface {
	DocumentStatus(ctx context.Context, documentID string) (*backend.DocumentStatus, error)
}

// tickMsg triggers polling the document status
type tickMsg time.Time

// statusMsg carries the updated document status
type statusMsg struct {
	status *backend.DocumentStatus
	err    error
}

// progressModel is the bubbletea model for ingestion progress.
type progressModel struct {
	poller     statusPoller
	documentID string
	status     *backend.DocumentStatus
	progress   progress.Model
	theme      Theme
	done       bool
	quitting   bool
	err        error
}

func newProgressModel(p statusPoller, documentID string) progressModel {
	prog := progress.New(
		progress.WithDefaultBlend(),
		progress.WithWidth(40),
	)

	return progressModel{
		poller:     p,
		documentID: documentID,
		progress:   prog,
		theme:      defaultTheme,
	}
}

// Init returns the initial command (start polling).
func (m progressModel) Init() tea.Cmd {
	return tea.Batch(
		m.fetchStatus(),
		m.progress.Init(),
	)
}

// Update handles messages and returns the updated model.
func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyPressMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		return m, m.fetchStatus()

	case statusMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("failed to fetch document status: %w", msg.err)
			m.done = true
			return m, tea.Quit
		}

		m.status = msg.status

		switch m.status.Status {
		case backend.DocumentReady:
			m.done = true
			return m, tea.Quit
		case backend.DocumentFailed:
			m.done = true
			if m.status.Error != "" {
				m.err = fmt.Errorf("%s", m.status.Error)
			} else {
				m.err = fmt.Errorf("ingestion failed with unknown error")
			}
			return m, tea.Quit
		}

		return m, tickCmd()

	case progress.FrameMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the progress display.
func (m progressModel) View() tea.View {
	return tea.NewView(m.renderContent())
}

func (m progressModel) renderContent() string {
	if m.done {
		return m.finalView()
	}

	if m.status == nil {
		return "Waiting for the backend...\n"
	}

	var pct float64
	if m.status.ChunksTotal > 0 {
		pct = float64(m.status.ChunksDone) / float64(m.status.ChunksTotal)
	}

	status := m.theme.statusStyle().Render(fmt.Sprintf("[%s]", m.status.Status))
	progressBar := m.progress.ViewAs(pct)
	counts := fmt.Sprintf("%d/%d chunks", m.status.ChunksDone, m.status.ChunksTotal)
	hint := m.theme.hintStyle().Render("Press Ctrl+C to continue in background")

	return fmt.Sprintf("%s %s %s\n%s\n", status, progressBar, counts, hint)
}

func (m progressModel) finalView() string {
	if m.quitting {
		return m.theme.hintStyle().Render(fmt.Sprintf("\n%s continues processing in the background.\n", m.documentID))
	}

	if m.err != nil {
		return m.theme.errorStyle().Render(fmt.Sprintf("\n✗ Ingestion failed: %s\n", m.err))
	}

	out := m.theme.completedStyle().Render("✓ Ready") + "\n\n"
	out += fmt.Sprintf("  Document:  %s\n", m.documentID)
	if m.status != nil {
		out += fmt.Sprintf("  Chunks:    %d\n", m.status.ChunksTotal)
	}
	return out
}

// fetchStatus polls the backend in a command so Update never blocks.
func (m progressModel) fetchStatus() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := m.poller.DocumentStatus(ctx, m.documentID)
		return statusMsg{status: status, err: err}
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// RunUploadProgress follows ingestion of documentID until it is ready.
// Returns nil on success or Ctrl+C (background), error on failure.
func RunUploadProgress(p statusPoller, documentID string) error {
	model := newProgressModel(p, documentID)
	prog := tea.NewProgram(model)

	finalModel, err := prog.Run()
	if err != nil {
		return fmt.Errorf("progress UI error: %w", err)
	}

	if m, ok := finalModel.(progressModel); ok {
		if m.quitting {
			return nil
		}
		if m.err != nil {
			return m.err
		}
	}

	return nil
}
