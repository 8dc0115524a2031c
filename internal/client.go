package internal

import (
	"errors"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

const (
	maxChatLines = 500
	maxNotices   = 5

	textinputNormal   = textinput.EchoNormal
	textinputPassword = textinput.EchoPassword
)

// RunClient launches the bubbletea program so the user can browse rooms and
// chat from the terminal.
func RunClient(opts ClientOptions) error {
	if opts.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if _, err := liveURL(opts.ServerURL, opts.LivePath, ""); err != nil {
		return err
	}
	program := tea.NewProgram(NewTUIModel(opts), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
