package tui

import "time"

// DisplayConfig controls optional detail-pane sections.
type DisplayConfig struct {
	ShowCosts bool
	ShowNotes bool
	Currency  string
}

type Option func(*Model)

func DefaultDisplayConfig() DisplayConfig {
	return DisplayConfig{
		ShowCosts: true,
		ShowNotes: true,
		Currency:  "MUR",
	}
}

func WithDisplayConfig(cfg DisplayConfig) Option {
	return func(m *Model) {
		m.display = cfg
	}
}

func WithKeyConfig(cfg KeyConfig) Option {
	return func(m *Model) {
		m.keys.applyConfig(cfg)
	}
}

// WithClock sets the day used for days-after-planting.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		if now != nil {
			m.now = now
		}
	}
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(write func(string) error) Option {
	return func(m *Model) {
		if write != nil {
			m.copyText = write
		}
	}
}
