// Package progress owns the delivery checkpoint: the highest source offset
// such that it and every offset before it were acknowledged by the broker
// (or deliberately skipped). A restart resumes at Checkpoint()+1, so nothing
// is lost; anything acknowledged past a gap is delivered again.
package progress

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"sluice/internal/logging"
	"sluice/internal/telemetry"
)

// None is the checkpoint before anything was delivered.
const None int64 = -1

// Key identifies a checkpoint by topic and partition-key scheme.
func Key(topic, keyScheme string) string {
	return topic + "|" + keyScheme
}

type Tracker struct {
	key   string
	store Store
	win   *window
	log   *slog.Logger

	mu         sync.Mutex
	checkpoint int64
	marks      map[int]int64
}

// New loads the persisted checkpoint for key. window bounds how many
// dispatched offsets may await acknowledgment at once (0 = unbounded).
func New(ctx context.Context, store Store, key string, window int64) (*Tracker, error) {
	cp, ok, err := store.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("progress: load %q: %w", key, err)
	}
	checkpoint := None
	if ok {
		checkpoint = cp.Offset
	}
	t := &Tracker{
		key:        key,
		store:      store,
		win:        newWindow(window, checkpoint),
		log:        logging.With("progress"),
		checkpoint: checkpoint,
		marks:      make(map[int]int64),
	}
	telemetry.Checkpoint.Set(float64(checkpoint))
	t.log.Info("checkpoint loaded", "key", key, "checkpoint", checkpoint, "found", ok)
	return t, nil
}

func (t *Tracker) Key() string { return t.key }

// Track registers offset as dispatched. Offsets must be tracked in strictly
// increasing order; Track blocks while the window is full.
func (t *Tracker) Track(ctx context.Context, offset int64) error {
	if err := t.win.track(ctx, offset); err != nil {
		return err
	}
	telemetry.TrackerPending.Set(float64(t.win.pending()))
	return nil
}

// Complete resolves acknowledged (or skipped) offsets reported by lane and
// advances the checkpoint across every gap they close. Lane -1 is used for
// offsets resolved outside a publisher lane.
func (t *Tracker) Complete(ctx context.Context, lane int, offsets ...int64) error {
	if len(offsets) == 0 {
		return nil
	}
	high, advanced := int64(0), false
	for _, off := range offsets {
		if h, ok := t.win.resolve(off); ok && (!advanced || h > high) {
			high, advanced = h, true
		}
	}
	telemetry.TrackerPending.Set(float64(t.win.pending()))

	if lane >= 0 {
		top := slices.Max(offsets)
		t.mu.Lock()
		if cur, ok := t.marks[lane]; !ok || top > cur {
			t.marks[lane] = top
		}
		t.mu.Unlock()
	}
	if !advanced {
		return nil
	}
	_, err := t.Advance(ctx, high)
	return err
}

// Advance moves the checkpoint to offset when it is ahead of the current one
// and persists it before returning. It reports whether the checkpoint moved.
func (t *Tracker) Advance(ctx context.Context, offset int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if offset <= t.checkpoint {
		return false, nil
	}
	if err := t.store.Save(ctx, Checkpoint{Key: t.key, Offset: offset, UpdatedAt: time.Now().UTC()}); err != nil {
		return false, fmt.Errorf("progress: persist %d: %w", offset, err)
	}
	t.checkpoint = offset
	telemetry.Checkpoint.Set(float64(offset))
	t.log.Debug("checkpoint advanced", "key", t.key, "checkpoint", offset)
	return true, nil
}

func (t *Tracker) Checkpoint() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoint
}

// ResumeOffset is the first source offset a restarted run must read.
func (t *Tracker) ResumeOffset() int64 { return t.Checkpoint() + 1 }

func (t *Tracker) Pending() int64 { return t.win.pending() }

// Outstanding lists tracked offsets still awaiting acknowledgment, sorted.
func (t *Tracker) Outstanding() []int64 {
	out := t.win.outstanding()
	slices.Sort(out)
	return out
}

// LaneMarks returns the highest acknowledged offset per publisher lane.
func (t *Tracker) LaneMarks() map[int]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]int64, len(t.marks))
	for k, v := range t.marks {
		out[k] = v
	}
	return out
}
