package tracker

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"payment-gateway/internal/models"
	"payment-gateway/internal/util"

	"go.uber.org/zap"
)

const (
	// DefaultCapacity bounds the ledger when no capacity is configured.
	DefaultCapacity = 1000

	// DefaultPageSize and MaxPageSize bound List results.
	DefaultPageSize = 50
	MaxPageSize     = 200

	// DefaultStatsWindow is the trailing window for the recent-entries count.
	DefaultStatsWindow = 24 * time.Hour
)

// Tracker is an append-only, bounded, in-memory ledger of cart lifecycle
// entries. It correlates creation records with later, possibly out-of-order
// confirmation and failure events and answers point, filtered and aggregate
// queries.
//
// All operations are synchronous and hold a single mutex for the duration
// of one entry mutation or ledger scan; no I/O happens under the lock.
// The tracker never fails its callers: unknown ids on confirmation or
// failure synthesize an entry rather than being rejected.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*models.CartEntry
	order    []string // cart ids, oldest insertion first
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a tracker holding at most capacity entries. Insertion beyond
// the cap evicts the oldest entry by insertion order regardless of state.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		entries:  make(map[string]*models.CartEntry),
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// RecordCreation records a new checkout attempt in state CREATED and returns
// a snapshot of the entry. A creation for a live cart id overwrites the
// existing entry (retry semantics); the overwrite is flagged through a
// warning log and the carts_replaced_total counter rather than rejected.
func (t *Tracker) RecordCreation(cartID string, source models.CartSource, metadata map[string]interface{}) models.CartEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	if _, ok := t.entries[cartID]; ok {
		t.removeFromOrder(cartID)
		util.CartsReplacedTotal.Inc()
		t.logger.Warn("Duplicate cart creation, overwriting live entry",
			zap.String("cart_id", cartID),
			zap.String("source", string(source)))
	}

	entry := &models.CartEntry{
		CartID:    cartID,
		Source:    source,
		State:     models.CartStateCreated,
		CreatedAt: now,
		Metadata:  mergeMetadata(nil, metadata),
		Events: []models.CartEvent{{
			Type:      "created",
			Timestamp: now,
			Data:      metadata,
		}},
	}

	t.insertLocked(entry)
	util.CartsCreatedTotal.WithLabelValues(string(source)).Inc()

	return cloneEntry(entry)
}

// RecordConfirmation applies a confirmation event to the cart. If the entry
// is still CREATED it transitions to CONFIRMED; if it already reached a
// terminal state the event is appended to the audit trail without changing
// the state (first-terminal-wins). A confirmation for an untracked id
// synthesizes an entry so that no confirmation is ever dropped.
func (t *Tracker) RecordConfirmation(cartID, eventType string, eventData map[string]interface{}) models.CartEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	event := models.CartEvent{Type: eventType, Timestamp: now, Data: eventData}

	entry, ok := t.entries[cartID]
	if !ok {
		entry = t.synthesizeLocked(cartID, eventData, now)
		entry.State = models.CartStateConfirmed
		entry.ConfirmedAt = &now
		entry.ConfirmedBy = eventType
		entry.Events = append(entry.Events, event)
		util.CartsConfirmedTotal.Inc()
		return cloneEntry(entry)
	}

	entry.Events = append(entry.Events, event)

	if entry.Terminal() {
		return cloneEntry(entry)
	}

	entry.State = models.CartStateConfirmed
	entry.ConfirmedAt = &now
	entry.ConfirmedBy = eventType
	entry.Metadata = mergeMetadata(entry.Metadata, eventData)
	util.CartsConfirmedTotal.Inc()

	return cloneEntry(entry)
}

// RecordFailure applies a failure event to the cart with the same lookup,
// synthesis and first-terminal-wins semantics as RecordConfirmation.
func (t *Tracker) RecordFailure(cartID, reason string, eventData map[string]interface{}) models.CartEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	event := models.CartEvent{Type: "failure", Timestamp: now, Data: eventData}
	if eventData == nil {
		event.Data = map[string]interface{}{"reason": reason}
	}

	entry, ok := t.entries[cartID]
	if !ok {
		entry = t.synthesizeLocked(cartID, eventData, now)
		entry.State = models.CartStateFailed
		entry.FailedAt = &now
		entry.FailureReason = reason
		entry.Events = append(entry.Events, event)
		util.CartsFailedTotal.Inc()
		return cloneEntry(entry)
	}

	entry.Events = append(entry.Events, event)

	if entry.Terminal() {
		return cloneEntry(entry)
	}

	entry.State = models.CartStateFailed
	entry.FailedAt = &now
	entry.FailureReason = reason
	entry.Metadata = mergeMetadata(entry.Metadata, eventData)
	util.CartsFailedTotal.Inc()

	return cloneEntry(entry)
}

// Get returns a snapshot of the entry, or nil when the cart is not tracked.
func (t *Tracker) Get(cartID string) *models.CartEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[cartID]
	if !ok {
		return nil
	}
	c := cloneEntry(entry)
	return &c
}

// Len returns the number of live entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	State  models.CartState
	Source models.CartSource
}

// Page controls List pagination. Limit and Offset clamp to non-negative;
// Limit defaults to DefaultPageSize and caps at MaxPageSize.
type Page struct {
	Limit  int
	Offset int
}

// List returns entries matching the filter ordered by creation time
// descending, along with the total match count and whether more entries
// remain past the returned page.
func (t *Tracker) List(filter Filter, page Page) ([]models.CartEntry, int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	matched := make([]*models.CartEntry, 0, len(t.entries))
	for _, id := range t.order {
		entry := t.entries[id]
		if filter.State != "" && entry.State != filter.State {
			continue
		}
		if filter.Source != "" && entry.Source != filter.Source {
			continue
		}
		matched = append(matched, entry)
	}

	// Synthesized entries can carry backfilled creation times, so the
	// insertion order is not necessarily the creation order.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit := page.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	out := make([]models.CartEntry, 0, end-offset)
	for _, entry := range matched[offset:end] {
		out = append(out, cloneEntry(entry))
	}

	return out, total, end < total
}

// Stats holds aggregate ledger statistics.
type Stats struct {
	Total                 int            `json:"total"`
	Confirmed             int            `json:"confirmed"`
	Pending               int            `json:"pending"`
	Failed                int            `json:"failed"`
	Recent                int            `json:"recent24h"`
	ConfirmationRate      string         `json:"confirmationRate"`
	AvgConfirmationTimeMS float64        `json:"avgConfirmationTimeMs"`
	BySource              map[string]int `json:"bySource"`
}

// Stats aggregates the ledger. window bounds the recent-entries count;
// zero means DefaultStatsWindow. An empty ledger yields zero counts and a
// "0%" confirmation rate.
func (t *Tracker) Stats(window time.Duration) Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	if window <= 0 {
		window = DefaultStatsWindow
	}
	cutoff := t.now().Add(-window)

	stats := Stats{
		ConfirmationRate: "0%",
		BySource:         make(map[string]int),
	}

	var confirmedDurations time.Duration
	var confirmedWithTimes int

	for _, entry := range t.entries {
		stats.Total++
		stats.BySource[string(entry.Source)]++

		switch entry.State {
		case models.CartStateConfirmed:
			stats.Confirmed++
		case models.CartStateFailed:
			stats.Failed++
		default:
			stats.Pending++
		}

		if entry.CreatedAt.After(cutoff) {
			stats.Recent++
		}

		if entry.ConfirmedAt != nil {
			confirmedDurations += entry.ConfirmedAt.Sub(entry.CreatedAt)
			confirmedWithTimes++
		}
	}

	if stats.Total > 0 {
		rate := float64(stats.Confirmed) / float64(stats.Total) * 100
		stats.ConfirmationRate = fmt.Sprintf("%.1f%%", rate)
	}
	if confirmedWithTimes > 0 {
		stats.AvgConfirmationTimeMS = float64(confirmedDurations.Milliseconds()) / float64(confirmedWithTimes)
	}

	return stats
}

// synthesizeLocked creates an entry for a terminal event that arrived
// without a creation record (evicted, restarted, or a different id path).
// The creation time is backfilled from the event payload when present.
func (t *Tracker) synthesizeLocked(cartID string, eventData map[string]interface{}, now time.Time) *models.CartEntry {
	created := backfillCreatedAt(eventData, now)

	entry := &models.CartEntry{
		CartID:    cartID,
		Source:    models.SourceUnknown,
		State:     models.CartStateCreated,
		CreatedAt: created,
		Metadata:  mergeMetadata(nil, eventData),
	}

	t.insertLocked(entry)
	util.CartsSynthesizedTotal.Inc()
	t.logger.Info("Synthesized cart entry for unmatched event",
		zap.String("cart_id", cartID))

	return entry
}

// insertLocked appends the entry and enforces the capacity cap with FIFO
// eviction by insertion order.
func (t *Tracker) insertLocked(entry *models.CartEntry) {
	t.entries[entry.CartID] = entry
	t.order = append(t.order, entry.CartID)

	for len(t.order) > t.capacity {
		evicted := t.order[0]
		t.order = t.order[1:]
		delete(t.entries, evicted)
		util.CartsEvictedTotal.Inc()
		t.logger.Debug("Evicted cart entry at capacity",
			zap.String("cart_id", evicted),
			zap.Int("capacity", t.capacity))
	}
}

func (t *Tracker) removeFromOrder(cartID string) {
	for i, id := range t.order {
		if id == cartID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}

// backfillCreatedAt pulls a creation timestamp out of an event payload.
// Providers report it either as an RFC3339 "created_at" string or a
// "created" unix-seconds number (how Stripe sessions report it). Future
// values clamp to now so created_at never exceeds a terminal timestamp.
func backfillCreatedAt(eventData map[string]interface{}, now time.Time) time.Time {
	created := now

	if raw, ok := eventData["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			created = ts
		}
	} else if raw, ok := eventData["created"]; ok {
		switch v := raw.(type) {
		case float64:
			created = time.Unix(int64(v), 0)
		case int64:
			created = time.Unix(v, 0)
		case int:
			created = time.Unix(int64(v), 0)
		}
	}

	if created.After(now) {
		created = now
	}
	return created
}

func mergeMetadata(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// cloneEntry snapshots an entry so callers never observe a torn or later
// mutated record.
func cloneEntry(entry *models.CartEntry) models.CartEntry {
	c := *entry
	c.Metadata = mergeMetadata(nil, entry.Metadata)
	c.Events = append([]models.CartEvent(nil), entry.Events...)
	if entry.ConfirmedAt != nil {
		ts := *entry.ConfirmedAt
		c.ConfirmedAt = &ts
	}
	if entry.FailedAt != nil {
		ts := *entry.FailedAt
		c.FailedAt = &ts
	}
	return c
}
