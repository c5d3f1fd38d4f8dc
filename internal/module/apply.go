package module

import (
	"errors"
	"fmt"

	"github.com/bryanchriswhite/wincat/internal/config"
	"github.com/bryanchriswhite/wincat/internal/logger"
	"github.com/bryanchriswhite/wincat/internal/source"
)

// Apply reconciles the configured sources with cfg, matching them by name.
// New names are created, known names updated in place and names no longer
// present destroyed. Sources created through NewSource directly are left
// alone. Script files are resolved against scriptDir.
func (m *Module) Apply(cfg *config.Config, scriptDir string) error {
	log := logger.WithComponent("module")

	wanted := make(map[string]source.Settings, len(cfg.Sources))
	var order []string
	var errs []error
	for _, sc := range cfg.Sources {
		if _, dup := wanted[sc.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate source name %q", sc.Name))
			continue
		}
		script, err := sc.ResolveScript(scriptDir)
		if err != nil {
			// An unreadable script unloads the selector like a broken one.
			errs = append(errs, fmt.Errorf("source %q: %w", sc.Name, err))
		}
		wanted[sc.Name] = source.Settings{Name: sc.Name, Script: script, Options: cfg.Options(sc)}
		order = append(order, sc.Name)
	}

	m.mu.Lock()
	if m.configured == nil {
		m.configured = make(map[string]string)
	}
	var stale []string
	for name, id := range m.configured {
		if _, ok := wanted[name]; !ok {
			stale = append(stale, id)
			delete(m.configured, name)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.DestroySource(id)
	}

	for _, name := range order {
		settings := wanted[name]

		m.mu.Lock()
		id, known := m.configured[name]
		m.mu.Unlock()

		if known {
			if s, ok := m.Source(id); ok {
				s.Update(settings)
				continue
			}
		}

		s, err := m.NewSource(settings)
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.configured[name] = s.ID()
		m.mu.Unlock()
	}

	log.Info().Int("sources", len(order)).Int("removed", len(stale)).Msg("Applied source configuration")
	return errors.Join(errs...)
}
