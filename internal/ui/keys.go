package ui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Record key.Binding
	Viz    key.Binding
	Help   key.Binding
	Quit   key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		Record: key.NewBinding(key.WithKeys(" ", "r"), key.WithHelp("space/r", "record")),
		Viz:    key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "viz detail")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Viz, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Record, k.Viz}, {k.Help, k.Quit}}
}
