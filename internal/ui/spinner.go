package ui

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrInterrupted = errors.New("interrupted")

type taskDoneMsg struct{ err error }

// spinnerModel shows a spinner until the task reports back.
type spinnerModel struct {
	spinner spinner.Model
	message string
	task    func() error
	err     error
	done    bool
}

func newSpinnerModel(message string, task func() error) spinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Globe
	s.Style = SpinnerStyle
	return spinnerModel{spinner: s, message: message, task: task}
}

func (m spinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, func() tea.Msg {
		return taskDoneMsg{err: m.task()}
	})
}

func (m spinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case taskDoneMsg:
		m.err = msg.err
		m.done = true
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.err = ErrInterrupted
			m.done = true
			return m, tea.Quit
		}
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m spinnerModel) View() string {
	if m.done {
		return ""
	}
	return fmt.Sprintf("%s %s", m.spinner.View(), m.message)
}

// RunWithSpinner runs task while a spinner is shown on stdout. Without a
// terminal the task simply runs.
func RunWithSpinner(message string, task func() error) error {
	return runWithSpinner(os.Stdin, os.Stdout, message, task)
}

func runWithSpinner(in io.Reader, out io.Writer, message string, task func() error) error {
	if f, ok := out.(*os.File); !ok || !isTerminal(f) {
		return task()
	}
	final, err := tea.NewProgram(newSpinnerModel(message, task), tea.WithInput(in), tea.WithOutput(out)).Run()
	if err != nil {
		return fmt.Errorf("spinner: %w", err)
	}
	return final.(spinnerModel).err
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
