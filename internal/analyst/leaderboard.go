package analyst

import "sort"

// signalRingCap bounds each entry's retained signal audit trail.
const signalRingCap = 100

// Entry is one persisted leaderboard row.
type Entry struct {
	AgentID string         `json:"agentId"`
	Rank    int            `json:"rank"`
	WinRate float64        `json:"winRate"`
	Bull    SideStats      `json:"bull"`
	Bear    SideStats      `json:"bear"`
	Signals []TickerSignal `json:"signals"`
}

// Leaderboard applies cycle evaluations to persisted entries.
type Leaderboard struct {
	Entries []Entry
}

// Apply folds a cycle's evaluations into the board: additive counters, a
// win-rate recompute that excludes unknown-priced predictions from the
// denominator, and a stable re-rank by win rate descending (ties keep the
// board's pre-existing order).
func (l *Leaderboard) Apply(evals map[string]Evaluation) {
	byID := make(map[string]int, len(l.Entries))
	for i, e := range l.Entries {
		byID[e.AgentID] = i
	}
	// deterministic insertion order for brand-new agents
	ids := make([]string, 0, len(evals))
	for id := range evals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ev := evals[id]
		idx, ok := byID[id]
		if !ok {
			l.Entries = append(l.Entries, Entry{AgentID: id})
			idx = len(l.Entries) - 1
			byID[id] = idx
		}
		e := &l.Entries[idx]
		e.Bull.N += ev.Bull.N
		e.Bull.Win += ev.Bull.Win
		e.Bull.Unknown += ev.Bull.Unknown
		e.Bear.N += ev.Bear.N
		e.Bear.Win += ev.Bear.Win
		e.Bear.Unknown += ev.Bear.Unknown
		e.Signals = append(e.Signals, ev.Signals...)
		if len(e.Signals) > signalRingCap {
			e.Signals = e.Signals[len(e.Signals)-signalRingCap:]
		}
		e.WinRate = winRate(e.Bull, e.Bear)
	}
	l.rerank()
}

// winRate excludes unknown-priced predictions from the denominator; they are
// neither wins nor losses.
func winRate(bull, bear SideStats) float64 {
	denom := bull.N + bear.N - bull.Unknown - bear.Unknown
	if denom <= 0 {
		return 0
	}
	return float64(bull.Win+bear.Win) / float64(denom)
}

func (l *Leaderboard) rerank() {
	sort.SliceStable(l.Entries, func(i, j int) bool {
		return l.Entries[i].WinRate > l.Entries[j].WinRate
	})
	for i := range l.Entries {
		l.Entries[i].Rank = i + 1
	}
}
