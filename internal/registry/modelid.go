package registry

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const idTimeLayout = "20060102T150405"

// IDGenerator issues model ids that sort lexically in creation order:
// a fixed-width UTC timestamp, a per-process sequence and a short random suffix.
// Timestamps never repeat within one generator, so the suffix only breaks ties
// across processes.
type IDGenerator struct {
	mu   sync.Mutex
	now  func() time.Time
	last time.Time
	seq  int
}

func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a fresh model id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	t := g.now().UTC()
	if !t.After(g.last) {
		t = g.last.Add(time.Nanosecond)
	}
	g.last = t
	g.seq = (g.seq + 1) % 1000000
	seq := g.seq
	g.mu.Unlock()

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s.%09dZ-%06d-%s", t.Format(idTimeLayout), t.Nanosecond(), seq, suffix)
}

// ParseIDTime extracts the creation timestamp from a model id.
func ParseIDTime(id string) (time.Time, error) {
	if len(id) < len(idTimeLayout)+11 {
		return time.Time{}, fmt.Errorf("model id %q too short", id)
	}
	return time.Parse(idTimeLayout+".000000000Z", id[:len(idTimeLayout)+11])
}

// TuningID names a tuning run the way the tuning artifact records it.
func TuningID(code string, now time.Time) string {
	return fmt.Sprintf("sarima_model_%s_%s_%s_tuned", code, now.UTC().Format("20060102150405"), uuid.NewString())
}
