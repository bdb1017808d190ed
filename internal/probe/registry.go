package probe

import (
	"log/slog"

	"github.com/san-kum/livesim/internal/schematic"
	"github.com/san-kum/livesim/internal/signal"
)

type Probe struct {
	ID    string
	Node  string
	Color string
}

func (p Probe) Connected() bool { return p.Node != "" }

func (p Probe) Key() signal.Key { return signal.NodeKey(p.Node) }

// FromElement converts a schematic probe element. The first terminal is the
// node it measures; no terminal means unconnected.
func FromElement(e schematic.Element) Probe {
	p := Probe{ID: e.ID, Color: e.Color}
	if len(e.Nodes) > 0 {
		p.Node = e.Nodes[0]
	}
	return p
}

// Display is the set of visualized traces reconciled against the key set.
// Both methods are called with the signal buffer lock held.
type Display interface {
	// Retain drops every trace whose key is not in keep.
	Retain(keep map[signal.Key]struct{})
	// Track adds a trace for key if it is missing. Existing traces keep their
	// style and position.
	Track(key signal.Key, color string)
}

type Registry struct {
	buf     *signal.Buffer
	display Display
	log     *slog.Logger
}

func NewRegistry(buf *signal.Buffer, display Display, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{buf: buf, display: display, log: log.With(slog.String("component", "probe"))}
}

// Refresh recomputes the key set from probes and swaps it into the buffer.
// Unconnected probes are ignored; duplicate keys collapse to the first probe.
func (r *Registry) Refresh(probes []Probe) []signal.Key {
	seen := make(map[signal.Key]struct{}, len(probes))
	var keys []signal.Key
	var colors []string
	for _, p := range probes {
		if !p.Connected() {
			continue
		}
		k := p.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
		colors = append(colors, p.Color)
	}

	r.buf.Refresh(keys, func(signal.Map) {
		if r.display == nil {
			return
		}
		r.display.Retain(seen)
		for i, k := range keys {
			r.display.Track(k, colors[i])
		}
	})

	r.log.Debug("probes refreshed", slog.Int("signals", len(keys)))
	return keys
}

// RefreshFrom refreshes using the probe elements currently in s.
func (r *Registry) RefreshFrom(s *schematic.Schematic) []signal.Key {
	els := s.Probes()
	probes := make([]Probe, len(els))
	for i, e := range els {
		probes[i] = FromElement(e)
	}
	return r.Refresh(probes)
}

// Watch refreshes whenever an element is added or removed, or a probe is
// re-connected. The returned func stops watching.
func (r *Registry) Watch(s *schematic.Schematic) func() {
	cancel := s.Subscribe(func(ev schematic.Event) {
		switch ev.Kind {
		case schematic.Added, schematic.Removed:
			r.RefreshFrom(s)
		case schematic.LayoutChanged:
			if ev.Element.Kind == schematic.KindProbe {
				r.RefreshFrom(s)
			}
		}
	})
	r.RefreshFrom(s)
	return cancel
}
