package roi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"flipwatch/internal/config"
	"flipwatch/internal/storage"
)

type fakeAlertStore struct {
	rows    map[string]int64
	sent    map[int64]bool
	nextID  int64
	upserts int
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{rows: make(map[string]int64), sent: make(map[int64]bool)}
}

func (f *fakeAlertStore) UpsertAlert(ctx context.Context, externalID string, score, maxBid decimal.Decimal) (storage.AlertUpsert, error) {
	f.upserts++
	if id, ok := f.rows[externalID]; ok {
		return storage.AlertUpsert{ID: id, CreatedNow: false}, nil
	}
	f.nextID++
	f.rows[externalID] = f.nextID
	return storage.AlertUpsert{ID: f.nextID, CreatedNow: true}, nil
}

func (f *fakeAlertStore) MarkAlertSent(ctx context.Context, id int64) error {
	f.sent[id] = true
	return nil
}

func (f *fakeAlertStore) TopLiveAlerts(ctx context.Context, limit int) ([]storage.AlertListingRow, error) {
	return nil, nil
}

type fakeAlertState struct {
	watermarks map[string]time.Time
}

func newFakeAlertState() *fakeAlertState {
	return &fakeAlertState{watermarks: make(map[string]time.Time)}
}

func (f *fakeAlertState) AlertLastSent(ctx context.Context, name string) (*time.Time, error) {
	when, ok := f.watermarks[name]
	if !ok {
		return nil, nil
	}
	value := when
	return &value, nil
}

func (f *fakeAlertState) SetAlertLastSent(ctx context.Context, name string, when time.Time) error {
	f.watermarks[name] = when
	return nil
}

func defaultDigest() config.DigestConfig {
	return config.DigestConfig{
		Enabled:  true,
		Name:     "roi_listings_digest",
		Cooldown: 30 * time.Minute,
		MaxItems: 20,
	}
}

func newTestBatcher(alerts storage.AlertStore, state storage.AlertStateStore, m *fakeMailer) *DigestBatcher {
	return NewDigestBatcher(alerts, state, m, defaultDigest(), 50.0, "ops@example.com", zerolog.Nop())
}

func TestDigestEmailsOnlyNewlyCreated(t *testing.T) {
	alerts := newFakeAlertStore()
	state := newFakeAlertState()
	m := &fakeMailer{}
	batcher := newTestBatcher(alerts, state, m)

	now := time.Now().UTC()
	end := now.Add(2 * time.Hour)
	ops := []Opportunity{testOpportunity("l1", 67, 0.67, &end)}

	batcher.Process(context.Background(), now, ops)
	if len(m.subjects) != 1 {
		t.Fatalf("first pass should email, got %d", len(m.subjects))
	}
	if !strings.Contains(m.subjects[0], "1 new high-ROI deals") {
		t.Fatalf("unexpected subject: %q", m.subjects[0])
	}

	// Second pass: the alert row already exists, so nothing is newly
	// created and no email goes out, cooldown aside.
	batcher.Process(context.Background(), now.Add(time.Hour), ops)
	if len(m.subjects) != 1 {
		t.Fatalf("existing alerts must not be re-emailed, got %d", len(m.subjects))
	}
	if alerts.upserts != 2 {
		t.Fatalf("every pass must refresh the alert row, upserts = %d", alerts.upserts)
	}
}

func TestDigestCooldown(t *testing.T) {
	alerts := newFakeAlertStore()
	state := newFakeAlertState()
	m := &fakeMailer{}
	batcher := newTestBatcher(alerts, state, m)

	now := time.Now().UTC()
	end := now.Add(2 * time.Hour)

	batcher.Process(context.Background(), now, []Opportunity{testOpportunity("l1", 67, 0.67, &end)})
	batcher.Process(context.Background(), now.Add(time.Minute), []Opportunity{testOpportunity("l2", 70, 0.70, &end)})

	if len(m.subjects) != 1 {
		t.Fatalf("second digest within cooldown must be suppressed, got %d emails", len(m.subjects))
	}

	// The suppressed batch's alert row exists, so the deal is not lost,
	// just not emailed.
	if len(alerts.rows) != 2 {
		t.Fatalf("both alerts must be recorded, got %d", len(alerts.rows))
	}

	batcher.Process(context.Background(), now.Add(31*time.Minute), []Opportunity{testOpportunity("l3", 80, 0.80, &end)})
	if len(m.subjects) != 2 {
		t.Fatalf("digest past cooldown should send, got %d emails", len(m.subjects))
	}
}

func TestDigestSkipsEndedListings(t *testing.T) {
	alerts := newFakeAlertStore()
	state := newFakeAlertState()
	m := &fakeMailer{}
	batcher := newTestBatcher(alerts, state, m)

	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	batcher.Process(context.Background(), now, []Opportunity{testOpportunity("l1", 67, 0.67, &past)})

	if len(m.subjects) != 0 {
		t.Fatalf("ended listings must not be emailed, got %v", m.subjects)
	}
	if len(alerts.rows) != 1 {
		t.Fatalf("ended listing still gets an alert row, got %d", len(alerts.rows))
	}
	if len(state.watermarks) != 0 {
		t.Fatalf("watermark must not advance without an email")
	}
}

func TestDigestRenderCapsItems(t *testing.T) {
	now := time.Now().UTC()
	end := now.Add(2 * time.Hour)

	ops := make([]Opportunity, 0, 25)
	for i := 0; i < 25; i++ {
		ops = append(ops, testOpportunity("l"+string(rune('a'+i)), 67, 0.67, &end))
	}

	html := renderDigestHTML(ops, 20)
	if !strings.Contains(html, "... and 5 more.") {
		t.Fatalf("overflow note missing from digest body")
	}
	if strings.Count(html, "<a href=") != 20 {
		t.Fatalf("digest must cap at 20 rows, got %d", strings.Count(html, "<a href="))
	}
}
