package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"charm.land/bubbles/v2/key"
)

// KeyConfig holds optional key overrides; blank fields keep the defaults.
type KeyConfig struct {
	Advance  string
	AddChild string
	AddBloc  string
	Edit     string
	Delete   string
	CopyID   string
}

// keyMap represents key map data used by this package.
type keyMap struct {
	quit         key.Binding
	reload       key.Binding
	toggleHelp   key.Binding
	moveUp       key.Binding
	moveDown     key.Binding
	toggleExpand key.Binding
	advance      key.Binding
	addChild     key.Binding
	addBloc      key.Binding
	edit         key.Binding
	deleteNode   key.Binding
	copyID       key.Binding
}

// newKeyMap constructs key map.
func newKeyMap() keyMap {
	return keyMap{
		quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		reload:       key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		toggleHelp:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "toggle help")),
		moveUp:       key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		moveDown:     key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		toggleExpand: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "expand/collapse")),
		advance:      key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "advance status")),
		addChild:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add child")),
		addBloc:      key.NewBinding(key.WithKeys("N", "shift+n"), key.WithHelp("N", "new bloc")),
		edit:         key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		deleteNode:   key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		copyID:       key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy id")),
	}
}

// applyConfig rebinds overridable keys.
func (k *keyMap) applyConfig(cfg KeyConfig) {
	configureBinding(&k.advance, cfg.Advance, "space", "advance status")
	configureBinding(&k.addChild, cfg.AddChild, "a", "add child")
	configureBinding(&k.addBloc, cfg.AddBloc, "N", "new bloc")
	configureBinding(&k.edit, cfg.Edit, "e", "edit")
	configureBinding(&k.deleteNode, cfg.Delete, "d", "delete")
	configureBinding(&k.copyID, cfg.CopyID, "y", "copy id")
}

// configureBinding replaces a binding's keys and help from one configured value.
func configureBinding(b *key.Binding, raw, fallback, desc string) {
	keys, helpKey := parseBindingKeys(raw, fallback)
	b.SetKeys(keys...)
	b.SetHelp(helpKey, desc)
}

// parseBindingKeys expands one configured key into matcher keys and its help label.
func parseBindingKeys(raw, fallback string) ([]string, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = fallback
	}
	if strings.EqualFold(raw, "space") {
		return []string{" ", "space"}, "space"
	}
	if utf8.RuneCountInString(raw) == 1 {
		r, _ := utf8.DecodeRuneInString(raw)
		if unicode.IsUpper(r) {
			return []string{raw, "shift+" + string(unicode.ToLower(r))}, raw
		}
		return []string{raw}, raw
	}
	return []string{strings.ToLower(raw)}, raw
}

// ShortHelp handles short help.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.toggleExpand, k.advance, k.addChild, k.deleteNode, k.toggleHelp, k.quit,
	}
}

// FullHelp handles full help.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.moveUp, k.moveDown, k.toggleExpand, k.reload},
		{k.advance, k.addChild, k.addBloc, k.edit, k.deleteNode, k.copyID},
		{k.toggleHelp, k.quit},
	}
}
