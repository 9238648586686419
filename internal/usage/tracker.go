package usage

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Totals aggregates spend for one dimension value.
type Totals struct {
	Requests     int64   `json:"requests"`
	CachedHits   int64   `json:"cached_hits"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func (t *Totals) add(e *UsageEntry) {
	t.Requests++
	t.InputTokens += int64(e.InputTokens)
	t.OutputTokens += int64(e.OutputTokens)
	t.CostUSD = RoundUSD(t.CostUSD + e.CostUSD)
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	Month          string            `json:"month"`
	Total          Totals            `json:"total"`
	ByProvider     map[string]Totals `json:"by_provider"`
	ByTaskType     map[string]Totals `json:"by_task_type"`
	ByCaller       map[string]Totals `json:"by_caller"`
	MonthlyBudget  float64           `json:"monthly_budget_usd,omitempty"`
	BudgetExceeded bool              `json:"budget_exceeded"`
}

// TopCallers returns caller ids ordered by spend, highest first.
func (s Snapshot) TopCallers(n int) []string {
	ids := make([]string, 0, len(s.ByCaller))
	for id := range s.ByCaller {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ci, cj := s.ByCaller[ids[i]].CostUSD, s.ByCaller[ids[j]].CostUSD
		if ci != cj {
			return ci > cj
		}
		return ids[i] < ids[j]
	})
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// Tracker keeps in-process spend totals for the current calendar month and
// warns once per month when the configured budget is crossed.
type Tracker struct {
	mu         sync.Mutex
	budget     float64
	month      string
	total      Totals
	byProvider map[string]*Totals
	byTask     map[string]*Totals
	byCaller   map[string]*Totals
	warned     bool
	now        func() time.Time
}

// NewTracker creates a tracker. budgetUSD <= 0 disables the budget warning.
func NewTracker(budgetUSD float64) *Tracker {
	t := &Tracker{budget: budgetUSD, now: time.Now}
	t.reset(monthKey(t.now()))
	return t
}

func monthKey(ts time.Time) string {
	return ts.UTC().Format("2006-01")
}

func (t *Tracker) reset(month string) {
	t.month = month
	t.total = Totals{}
	t.byProvider = make(map[string]*Totals)
	t.byTask = make(map[string]*Totals)
	t.byCaller = make(map[string]*Totals)
	t.warned = false
}

func bucket(m map[string]*Totals, key string) *Totals {
	b, ok := m[key]
	if !ok {
		b = &Totals{}
		m[key] = b
	}
	return b
}

// Record adds a served completion to the running totals.
func (t *Tracker) Record(e *UsageEntry) {
	if e == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if m := monthKey(t.now()); m != t.month {
		t.reset(m)
	}

	t.total.add(e)
	bucket(t.byProvider, e.Provider).add(e)
	bucket(t.byTask, e.TaskType).add(e)
	if e.CallerID != "" {
		bucket(t.byCaller, e.CallerID).add(e)
	}

	if t.budget > 0 && !t.warned && t.total.CostUSD > t.budget {
		t.warned = true
		slog.Warn("monthly generation budget exceeded",
			"month", t.month,
			"spent_usd", t.total.CostUSD,
			"budget_usd", t.budget,
		)
	}
}

// RecordCacheHit counts a request served from the response cache.
func (t *Tracker) RecordCacheHit(taskType, callerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m := monthKey(t.now()); m != t.month {
		t.reset(m)
	}
	t.total.CachedHits++
	bucket(t.byTask, taskType).CachedHits++
	if callerID != "" {
		bucket(t.byCaller, callerID).CachedHits++
	}
}

// Snapshot returns a copy of the current totals.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	copyMap := func(m map[string]*Totals) map[string]Totals {
		out := make(map[string]Totals, len(m))
		for k, v := range m {
			out[k] = *v
		}
		return out
	}
	return Snapshot{
		Month:          t.month,
		Total:          t.total,
		ByProvider:     copyMap(t.byProvider),
		ByTaskType:     copyMap(t.byTask),
		ByCaller:       copyMap(t.byCaller),
		MonthlyBudget:  t.budget,
		BudgetExceeded: t.budget > 0 && t.total.CostUSD > t.budget,
	}
}
