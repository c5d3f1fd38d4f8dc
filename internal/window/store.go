package window

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/wincat/internal/logger"
)

var emptySnapshot = &Snapshot{Processes: []Process{}}

// Store holds the latest published Snapshot. There is one writer (the
// Enumerator) and any number of readers; readers never see a partial snapshot.
type Store struct {
	current atomic.Pointer[Snapshot]
}

// NewStore returns a Store holding an empty snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(emptySnapshot)
	return s
}

// Load returns the latest snapshot. It never returns nil.
func (s *Store) Load() *Snapshot {
	return s.current.Load()
}

// Publish replaces the current snapshot.
func (s *Store) Publish(snap *Snapshot) {
	if snap == nil {
		snap = emptySnapshot
	}
	s.current.Store(snap)
}

// BuildSnapshot groups windows by owning process. The first visible window of
// each process becomes its main window. Processes are ordered by pid.
func BuildSnapshot(windows []WindowInfo, takenAt time.Time) *Snapshot {
	byPID := make(map[uint32]*Process)
	order := make([]uint32, 0)

	for _, w := range windows {
		if w.Title == "" {
			continue
		}
		p, ok := byPID[w.PID]
		if !ok {
			p = &Process{Name: w.ProcessName, PID: w.PID, Windows: []Record{}}
			byPID[w.PID] = p
			order = append(order, w.PID)
		}
		if p.Name == "" {
			p.Name = w.ProcessName
		}
		if w.Visible && p.Main == nil {
			main := w.Record
			p.Main = &main
		}
		p.Windows = append(p.Windows, w.Record)
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	procs := make([]Process, 0, len(order))
	for _, pid := range order {
		procs = append(procs, *byPID[pid])
	}
	return &Snapshot{Processes: procs, TakenAt: takenAt}
}

// Enumerator periodically lists windows from a Backend and publishes them.
type Enumerator struct {
	backend  Backend
	store    *Store
	interval time.Duration
}

// NewEnumerator creates an enumerator publishing into store every interval.
func NewEnumerator(backend Backend, store *Store, interval time.Duration) *Enumerator {
	if interval <= 0 {
		interval = time.Second
	}
	return &Enumerator{backend: backend, store: store, interval: interval}
}

// Refresh takes one snapshot and publishes it.
func (e *Enumerator) Refresh() error {
	windows, err := e.backend.ListWindows()
	if err != nil {
		return err
	}
	e.store.Publish(BuildSnapshot(windows, time.Now()))
	return nil
}

// Run refreshes until ctx is cancelled.
func (e *Enumerator) Run(ctx context.Context) {
	log := logger.WithComponent("enumerator")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	failing := false
	refresh := func() {
		if err := e.Refresh(); err != nil {
			if !failing {
				log.Warn().Err(err).Str("backend", e.backend.Name()).Msg("Window enumeration failed")
			}
			failing = true
			return
		}
		if failing {
			log.Info().Str("backend", e.backend.Name()).Msg("Window enumeration recovered")
		}
		failing = false
	}

	refresh()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
