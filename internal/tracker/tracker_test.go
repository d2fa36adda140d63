package tracker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"payment-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker(capacity int) (*Tracker, *fakeClock) {
	clk := newFakeClock()
	tr := New(capacity)
	tr.now = clk.Now
	return tr, clk
}

func TestCreateThenConfirm(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("c1", models.SourceStripeCheckout, map[string]interface{}{"totalItems": 2})
	clk.Advance(5 * time.Second)
	tr.RecordConfirmation("c1", "checkout.session.completed", map[string]interface{}{"payment_status": "paid"})

	entry := tr.Get("c1")
	require.NotNil(t, entry)
	assert.Equal(t, models.CartStateConfirmed, entry.State)
	assert.Equal(t, "checkout.session.completed", entry.ConfirmedBy)
	require.NotNil(t, entry.ConfirmedAt)
	assert.Equal(t, 5*time.Second, entry.ConfirmedAt.Sub(entry.CreatedAt))
	assert.Equal(t, "5.00s", FormatDurationMS(entry.ConfirmedAt.Sub(entry.CreatedAt).Milliseconds()))

	// metadata from creation and confirmation both present
	assert.Equal(t, 2, entry.Metadata["totalItems"])
	assert.Equal(t, "paid", entry.Metadata["payment_status"])

	// creation + confirmation in the audit trail
	assert.Len(t, entry.Events, 2)
}

func TestDuplicateConfirmationIsIdempotent(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("c1", models.SourceStripeCheckout, nil)
	clk.Advance(time.Second)
	first := tr.RecordConfirmation("c1", "checkout.session.completed", nil)

	clk.Advance(time.Minute)
	second := tr.RecordConfirmation("c1", "checkout.session.completed", nil)

	assert.Equal(t, models.CartStateConfirmed, second.State)
	assert.Equal(t, *first.ConfirmedAt, *second.ConfirmedAt)
	assert.Len(t, second.Events, 3)
}

func TestFirstTerminalWins(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("c1", models.SourcePayPalCheckout, nil)
	clk.Advance(time.Second)
	tr.RecordConfirmation("c1", "paypal.capture.completed", nil)
	clk.Advance(time.Second)
	after := tr.RecordFailure("c1", "late webhook failure", nil)

	assert.Equal(t, models.CartStateConfirmed, after.State)
	assert.Nil(t, after.FailedAt)
	assert.Empty(t, after.FailureReason)
	assert.Len(t, after.Events, 3)

	// and the converse: failed stays failed
	tr.RecordCreation("c2", models.SourcePayPalCheckout, nil)
	tr.RecordFailure("c2", "declined", nil)
	entry := tr.RecordConfirmation("c2", "paypal.capture.completed", nil)
	assert.Equal(t, models.CartStateFailed, entry.State)
	assert.Nil(t, entry.ConfirmedAt)
}

func TestConfirmationSynthesizesUnknownCart(t *testing.T) {
	tr, clk := newTestTracker(10)

	created := clk.Now().Add(-90 * time.Second)
	entry := tr.RecordConfirmation("ghost", "checkout.session.completed", map[string]interface{}{
		"created": float64(created.Unix()),
	})

	assert.Equal(t, models.SourceUnknown, entry.Source)
	assert.Equal(t, models.CartStateConfirmed, entry.State)
	assert.Equal(t, created.Unix(), entry.CreatedAt.Unix())
	require.NotNil(t, entry.ConfirmedAt)
	assert.False(t, entry.CreatedAt.After(*entry.ConfirmedAt))

	// retrievable afterwards: no confirmation is ever dropped
	got := tr.Get("ghost")
	require.NotNil(t, got)
	assert.Equal(t, models.CartStateConfirmed, got.State)
}

func TestFailureSynthesizesUnknownCart(t *testing.T) {
	tr, _ := newTestTracker(10)

	entry := tr.RecordFailure("ghost", "payment_intent.payment_failed", nil)

	assert.Equal(t, models.SourceUnknown, entry.Source)
	assert.Equal(t, models.CartStateFailed, entry.State)
	assert.Equal(t, "payment_intent.payment_failed", entry.FailureReason)
	require.NotNil(t, tr.Get("ghost"))
}

func TestBackfillCreatedAtClampsFutureValues(t *testing.T) {
	tr, clk := newTestTracker(10)

	future := clk.Now().Add(time.Hour)
	entry := tr.RecordConfirmation("c1", "checkout.session.completed", map[string]interface{}{
		"created_at": future.Format(time.RFC3339),
	})

	assert.False(t, entry.CreatedAt.After(*entry.ConfirmedAt))
}

func TestCapacityEvictionIsFIFO(t *testing.T) {
	tr, clk := newTestTracker(3)

	for i := 0; i < 4; i++ {
		tr.RecordCreation(fmt.Sprintf("c%d", i), models.SourceStripeCheckout, nil)
		clk.Advance(time.Second)
	}

	assert.Equal(t, 3, tr.Len())
	assert.Nil(t, tr.Get("c0"))
	assert.NotNil(t, tr.Get("c1"))
	assert.NotNil(t, tr.Get("c3"))

	// a confirmed entry is still evicted first when it is the oldest
	tr.RecordConfirmation("c1", "checkout.session.completed", nil)
	tr.RecordCreation("c4", models.SourceStripeCheckout, nil)
	assert.Nil(t, tr.Get("c1"))
	assert.Equal(t, 3, tr.Len())
}

func TestDuplicateCreationOverwrites(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("c1", models.SourceStripeCheckout, map[string]interface{}{"totalItems": 1})
	clk.Advance(time.Second)
	tr.RecordCreation("c1", models.SourcePayPalCheckout, map[string]interface{}{"totalItems": 3})

	assert.Equal(t, 1, tr.Len())
	entry := tr.Get("c1")
	require.NotNil(t, entry)
	assert.Equal(t, models.SourcePayPalCheckout, entry.Source)
	assert.Equal(t, models.CartStateCreated, entry.State)
	assert.Equal(t, 3, entry.Metadata["totalItems"])
	assert.Len(t, entry.Events, 1)
}

func TestListFilterAndPagination(t *testing.T) {
	tr, clk := newTestTracker(100)

	for i := 0; i < 6; i++ {
		source := models.SourceStripeCheckout
		if i%2 == 1 {
			source = models.SourcePayPalCheckout
		}
		tr.RecordCreation(fmt.Sprintf("c%d", i), source, nil)
		clk.Advance(time.Second)
	}
	tr.RecordConfirmation("c0", "checkout.session.completed", nil)
	tr.RecordConfirmation("c1", "paypal.capture.completed", nil)
	tr.RecordFailure("c2", "declined", nil)

	page, total, more := tr.List(Filter{}, Page{})
	assert.Equal(t, 6, total)
	assert.False(t, more)
	require.Len(t, page, 6)
	// created_at descending
	assert.Equal(t, "c5", page[0].CartID)
	assert.Equal(t, "c0", page[5].CartID)

	page, total, _ = tr.List(Filter{State: models.CartStateConfirmed}, Page{})
	assert.Equal(t, 2, total)
	require.Len(t, page, 2)

	page, total, _ = tr.List(Filter{State: models.CartStateConfirmed, Source: models.SourcePayPalCheckout}, Page{})
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c1", page[0].CartID)

	page, total, more = tr.List(Filter{}, Page{Limit: 2, Offset: 2})
	assert.Equal(t, 6, total)
	assert.True(t, more)
	require.Len(t, page, 2)
	assert.Equal(t, "c3", page[0].CartID)

	// clamping
	page, _, _ = tr.List(Filter{}, Page{Limit: -5, Offset: -3})
	assert.Len(t, page, 6)
	page, _, more = tr.List(Filter{}, Page{Limit: 10000, Offset: 100})
	assert.Empty(t, page)
	assert.False(t, more)
}

func TestStatsEmptyLedger(t *testing.T) {
	tr, _ := newTestTracker(10)

	stats := tr.Stats(0)
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, "0%", stats.ConfirmationRate)
	assert.Zero(t, stats.AvgConfirmationTimeMS)
	assert.Empty(t, stats.BySource)
}

func TestStatsAggregation(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("c1", models.SourceStripeCheckout, nil)
	tr.RecordCreation("c2", models.SourceStripeCheckout, nil)
	tr.RecordCreation("c3", models.SourcePayPalCheckout, nil)
	clk.Advance(4 * time.Second)
	tr.RecordConfirmation("c1", "checkout.session.completed", nil)
	clk.Advance(2 * time.Second)
	tr.RecordConfirmation("c3", "paypal.capture.completed", nil)
	tr.RecordFailure("c2", "expired", nil)

	stats := tr.Stats(0)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Confirmed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, "66.7%", stats.ConfirmationRate)
	assert.Equal(t, 3, stats.Recent)
	assert.Equal(t, 2, stats.BySource[string(models.SourceStripeCheckout)])
	assert.Equal(t, 1, stats.BySource[string(models.SourcePayPalCheckout)])
	// (4000 + 6000) / 2
	assert.InDelta(t, 5000, stats.AvgConfirmationTimeMS, 0.01)
}

func TestStatsRecentWindow(t *testing.T) {
	tr, clk := newTestTracker(10)

	tr.RecordCreation("old", models.SourceStripeCheckout, nil)
	clk.Advance(25 * time.Hour)
	tr.RecordCreation("new", models.SourceStripeCheckout, nil)

	stats := tr.Stats(0)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Recent)

	stats = tr.Stats(48 * time.Hour)
	assert.Equal(t, 2, stats.Recent)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	tr, _ := newTestTracker(10)

	tr.RecordCreation("c1", models.SourceStripeCheckout, map[string]interface{}{"totalItems": 1})
	snap := tr.Get("c1")
	snap.Metadata["totalItems"] = 99
	snap.Events[0].Type = "mutated"

	fresh := tr.Get("c1")
	assert.Equal(t, 1, fresh.Metadata["totalItems"])
	assert.Equal(t, "created", fresh.Events[0].Type)
}

func TestConcurrentRecording(t *testing.T) {
	tr, _ := newTestTracker(1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				id := fmt.Sprintf("c%d-%d", n, j)
				tr.RecordCreation(id, models.SourceStripeCheckout, nil)
				tr.RecordConfirmation(id, "checkout.session.completed", nil)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 400, tr.Len())
	stats := tr.Stats(0)
	assert.Equal(t, 400, stats.Confirmed)
	assert.Equal(t, "100.0%", stats.ConfirmationRate)
}
