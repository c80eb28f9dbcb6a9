// Package index holds the registry of available module kinds.
//
// Readers never lock: every query works on an immutable snapshot that is
// swapped atomically by writers. Writers are serialized with a mutex and
// rebuild the snapshot on each mutation, which suits a registry that changes
// at plugin load time and is read on every dispatch.
package index

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/wehubfusion/Talos/pkg/event"
	"github.com/wehubfusion/Talos/pkg/module"
	"go.uber.org/zap"
)

// snapshot is an immutable view of the registry.
type snapshot struct {
	version uint64
	infos   []*module.Info
	counts  map[*module.Info]int
}

var empty = &snapshot{counts: map[*module.Info]int{}}

// Index is a registry of module descriptors keyed by identity. The same
// *module.Info may be registered more than once; each Remove drops a single
// occurrence.
type Index struct {
	mu        sync.Mutex
	current   atomic.Pointer[snapshot]
	publisher event.Publisher
	logger    *zap.Logger
}

// Option configures an Index.
type Option func(*Index)

// WithPublisher sets the collaborator notified of additions and removals.
func WithPublisher(p event.Publisher) Option {
	return func(ix *Index) { ix.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// New creates an empty Index.
func New(opts ...Option) *Index {
	ix := &Index{publisher: event.Discard{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ix)
	}
	ix.current.Store(empty)
	return ix
}

// Add registers info and emits a ModulesAdded notification.
func (ix *Index) Add(ctx context.Context, info *module.Info) {
	ix.AddAll(ctx, []*module.Info{info})
}

// AddAll registers infos in order and emits a single ModulesAdded notification.
func (ix *Index) AddAll(ctx context.Context, infos []*module.Info) {
	infos = withoutNil(infos)
	if len(infos) == 0 {
		return
	}

	ix.mutate(func(next *snapshot) {
		for _, info := range infos {
			next.infos = append(next.infos, info)
			next.counts[info]++
		}
	})
	ix.logger.Debug("Modules added", zap.Int("count", len(infos)), zap.Int("total", ix.Len()))
	ix.notify(ctx, event.NewModulesAdded(infos))
}

// Remove drops one occurrence of info, if present, and emits a ModulesRemoved
// notification.
func (ix *Index) Remove(ctx context.Context, info *module.Info) {
	ix.RemoveAll(ctx, []*module.Info{info})
}

// RemoveAll drops one occurrence per element of infos. Absent entries are
// ignored; the notification still carries the full requested set.
func (ix *Index) RemoveAll(ctx context.Context, infos []*module.Info) {
	infos = withoutNil(infos)
	if len(infos) == 0 {
		return
	}

	removed := 0
	ix.mutate(func(next *snapshot) {
		for _, info := range infos {
			if next.counts[info] == 0 {
				continue
			}
			i := slices.Index(next.infos, info)
			next.infos = slices.Delete(next.infos, i, i+1)
			if next.counts[info]--; next.counts[info] == 0 {
				delete(next.counts, info)
			}
			removed++
		}
	})
	ix.logger.Debug("Modules removed",
		zap.Int("requested", len(infos)),
		zap.Int("removed", removed),
		zap.Int("total", ix.Len()))
	ix.notify(ctx, event.NewModulesRemoved(infos))
}

// All returns the registered descriptors in registration order. The result is
// a private copy and may be iterated while other goroutines mutate the Index.
func (ix *Index) All() []*module.Info {
	return slices.Clone(ix.current.Load().infos)
}

// ByAccelerator returns the first registered module whose menu leaf carries
// acc. Modules without a menu path are skipped.
func (ix *Index) ByAccelerator(acc module.Accelerator) (*module.Info, bool) {
	if acc.IsZero() {
		return nil, false
	}
	for _, info := range ix.current.Load().infos {
		if got, ok := info.Accelerator(); ok && got == acc {
			return info, true
		}
	}
	return nil, false
}

// Lookup returns the first registered module named name.
func (ix *Index) Lookup(name string) (*module.Info, bool) {
	for _, info := range ix.current.Load().infos {
		if info.Name() == name {
			return info, true
		}
	}
	return nil, false
}

// Count reports how many times info is registered.
func (ix *Index) Count(info *module.Info) int {
	return ix.current.Load().counts[info]
}

// Contains reports whether info is registered at least once.
func (ix *Index) Contains(info *module.Info) bool {
	return ix.Count(info) > 0
}

// Len returns the number of registrations, duplicates included.
func (ix *Index) Len() int {
	return len(ix.current.Load().infos)
}

// Version increases by one on every mutation.
func (ix *Index) Version() uint64 {
	return ix.current.Load().version
}

// mutate copies the current snapshot, applies fn and publishes the result.
func (ix *Index) mutate(fn func(next *snapshot)) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	cur := ix.current.Load()
	next := &snapshot{
		version: cur.version + 1,
		infos:   slices.Clone(cur.infos),
		counts:  make(map[*module.Info]int, len(cur.counts)),
	}
	for k, v := range cur.counts {
		next.counts[k] = v
	}
	fn(next)
	ix.current.Store(next)
}

func (ix *Index) notify(ctx context.Context, e event.Event) {
	if err := ix.publisher.Publish(ctx, e); err != nil {
		ix.logger.Warn("Failed to publish registry notification",
			zap.String("kind", string(e.Kind)),
			zap.Strings("modules", e.ModuleNames()),
			zap.Error(err))
	}
}

func withoutNil(infos []*module.Info) []*module.Info {
	if !slices.Contains(infos, nil) {
		return infos
	}
	out := make([]*module.Info, 0, len(infos))
	for _, info := range infos {
		if info != nil {
			out = append(out, info)
		}
	}
	return out
}
