package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/log"
)

// Stats holds aggregate statistics about a capture file.
type Stats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Commands         map[string]*CommandStats
	Sessions         map[string]*SessionStats
	Presences        int
	Errors           int
	TimeRange        struct {
		Start time.Time
		End   time.Time
	}
}

// CommandStats counts one command name.
type CommandStats struct {
	Count         int
	StatusWords   map[uint16]int
	TotalDuration time.Duration
}

// SessionStats holds statistics for one session.
type SessionStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	Events     int
	Exchanges  int
	TokenID    string
	FinalState string
}

// Collect reads path and aggregates every event.
func Collect(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Commands:         make(map[string]*CommandStats),
		Sessions:         make(map[string]*SessionStats),
	}

	err := each(path, FilterOptions{}, func(event log.Event) error {
		stats.add(event)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}
	if event.Error != nil {
		s.Errors++
	}

	// Presence events are keyed by presence ID, not session ID.
	if event.Category == log.CategoryPresence {
		if event.StateChange != nil && event.StateChange.NewState == "PRESENT" {
			s.Presences++
		}
		return
	}

	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.TokenID != "" && sess.TokenID == "" {
		sess.TokenID = event.TokenID
	}
	if sc := event.StateChange; sc != nil && sc.Entity == log.StateEntitySession {
		sess.FinalState = sc.NewState
	}

	if cmd := event.Command; cmd != nil {
		sess.Exchanges++
		cs, ok := s.Commands[cmd.Name]
		if !ok {
			cs = &CommandStats{StatusWords: make(map[uint16]int)}
			s.Commands[cmd.Name] = cs
		}
		cs.Count++
		if cmd.SW != nil {
			cs.StatusWords[*cmd.SW]++
		}
		if cmd.Duration != nil {
			cs.TotalDuration += *cmd.Duration
		}
	}
}

// RunStats analyzes path and prints statistics to w.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== hwlite Protocol Capture Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintf(w, "Presences:    %d\n", stats.Presences)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerCodec, log.LayerSession} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryPresence, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.Commands) > 0 {
		fmt.Fprintln(w, "Commands:")
		names := make([]string, 0, len(stats.Commands))
		for name := range stats.Commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			cs := stats.Commands[name]
			avg := time.Duration(0)
			if cs.Count > 0 {
				avg = cs.TotalDuration / time.Duration(cs.Count)
			}
			fmt.Fprintf(w, "  %-24s %4d  avg %s\n", name, cs.Count, formatDuration(avg))

			sws := make([]uint16, 0, len(cs.StatusWords))
			for sw := range cs.StatusWords {
				sws = append(sws, sw)
			}
			sort.Slice(sws, func(i, j int) bool { return sws[i] < sws[j] })
			for _, sw := range sws {
				fmt.Fprintf(w, "    %04X %-20s %d\n", sw, apdu.Status(sw), cs.StatusWords[sw])
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			duration := s.stats.LastSeen.Sub(s.stats.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %d events, %d exchanges, duration %s\n",
				shortID(s.id), s.stats.Events, s.stats.Exchanges, duration)
			if s.stats.TokenID != "" {
				fmt.Fprintf(w, "           Token: %s\n", s.stats.TokenID)
			}
			if s.stats.FinalState != "" {
				fmt.Fprintf(w, "           Final state: %s\n", s.stats.FinalState)
			}
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
