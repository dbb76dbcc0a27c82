package output

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Mode selects how records reach the sink.
type Mode int

const (
	// ModeLive forwards every record as soon as it arrives.
	ModeLive Mode = iota
	// ModeBatched forwards everything collected once per interval.
	ModeBatched
	// ModeLatest forwards the newest record per characteristic once per
	// interval.
	ModeLatest
)

func (m Mode) String() string {
	switch m {
	case ModeBatched:
		return "batched"
	case ModeLatest:
		return "latest"
	default:
		return "live"
	}
}

// ParseMode accepts live, batched or latest and a few aliases.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "instant", "every", "":
		return ModeLive, nil
	case "batched", "batch":
		return ModeBatched, nil
	case "latest", "aggregated":
		return ModeLatest, nil
	default:
		return ModeLive, fmt.Errorf("invalid mode %q: use live, batched, or latest", s)
	}
}

// Sink receives records in arrival order.
type Sink func(records []Record) error

// Pace delivers the records of in to sink according to mode until ctx is
// done or in is closed. Paced modes flush what is left before returning.
func Pace(ctx context.Context, in <-chan Record, mode Mode, interval time.Duration, bufferSize uint32, sink Sink) error {
	if mode == ModeLive {
		for {
			select {
			case <-ctx.Done():
				return nil
			case rec, ok := <-in:
				if !ok {
					return nil
				}
				if err := sink([]Record{rec}); err != nil {
					return err
				}
			}
		}
	}

	if interval <= 0 {
		return fmt.Errorf("mode %s needs a positive interval", mode)
	}
	c, err := NewCollector(bufferSize)
	if err != nil {
		return err
	}
	if err := c.Start(ctx, in); err != nil {
		return err
	}
	defer c.Stop()

	flush := func() error {
		records := c.Drain()
		if mode == ModeLatest {
			records = Latest(records)
		}
		if len(records) == 0 {
			return nil
		}
		return sink(records)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case <-c.Done():
			return flush()
		}
	}
}

// Latest keeps the newest record of each characteristic, ordered by
// characteristic.
func Latest(records []Record) []Record {
	latest := map[string]Record{}
	for _, r := range records {
		latest[r.Characteristic.String()] = r
	}

	out := make([]Record, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Record) int {
		return strings.Compare(a.Characteristic.String(), b.Characteristic.String())
	})
	return out
}
