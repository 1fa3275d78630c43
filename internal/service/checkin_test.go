package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"lumo/internal/apperr"
	"lumo/internal/model"
	"lumo/internal/repository"
	"lumo/internal/repository/sqlite"
	"lumo/internal/reward"
)

const (
	parisLat = 48.8566
	parisLon = 2.3522
)

type mockBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (m *mockBus) Publish(topic string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = map[string][][]byte{}
	}
	m.messages[topic] = append(m.messages[topic], data)
	return nil
}

// faultyStore injects failures into an otherwise real store.
type faultyStore struct {
	*sqlite.Store
	ruleErr   error
	appendErr error
}

func (f *faultyStore) ActiveRule(ctx context.Context, trigger string) (*model.RewardRule, error) {
	if f.ruleErr != nil {
		return nil, f.ruleErr
	}
	return f.Store.ActiveRule(ctx, trigger)
}

func (f *faultyStore) AppendTransaction(ctx context.Context, tx model.LedgerTransaction) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	return f.Store.AppendTransaction(ctx, tx)
}

type fixture struct {
	store    *faultyStore
	bus      *mockBus
	pipeline *Pipeline
}

func ptr[T any](v T) *T { return &v }

func newFixture(t *testing.T, rewardAmount *int64) *fixture {
	t.Helper()
	ctx := context.Background()
	s, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "lumo.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	events := []model.Event{
		{ID: "paris", Latitude: ptr(parisLat), Longitude: ptr(parisLon)},
		{ID: "paris-2", Latitude: ptr(parisLat), Longitude: ptr(parisLon)},
		{ID: "paris-qr", Latitude: ptr(parisLat), Longitude: ptr(parisLon), QRSecret: ptr("qr-secret")},
		{ID: "no-geo"},
	}
	for _, e := range events {
		if err := s.PutEvent(ctx, e); err != nil {
			t.Fatalf("seed event: %v", err)
		}
	}
	if rewardAmount != nil {
		if err := s.PutRewardRule(ctx, model.RewardRule{
			ID: "rule-checkin", TriggerEvent: model.TriggerCheckIn, Amount: *rewardAmount, Active: true,
		}); err != nil {
			t.Fatalf("seed rule: %v", err)
		}
	}

	store := &faultyStore{Store: s}
	bus := &mockBus{}
	return &fixture{
		store:    store,
		bus:      bus,
		pipeline: NewPipeline(store, reward.NewEngine(store, nil, 0), bus),
	}
}

func request(eventID string, lat, lon float64) model.CheckInRequest {
	return model.CheckInRequest{EventID: eventID, Lat: ptr(lat), Lon: ptr(lon)}
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := f.pipeline.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (f *fixture) transactions(t *testing.T, userID string) []model.LedgerTransaction {
	t.Helper()
	txs, err := f.store.Transactions(context.Background(), userID)
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	return txs
}

func (f *fixture) checkIns(t *testing.T, userID, eventID string) int {
	t.Helper()
	n, err := f.store.CountCheckIns(context.Background(), userID, eventID)
	if err != nil {
		t.Fatalf("count checkins: %v", err)
	}
	return n
}

func TestCheckInParisScenario(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.pipeline.CheckIn(ctx, uuid.NewString(), request("paris", parisLat, parisLon))
	if err != nil {
		t.Fatalf("same point: %v", err)
	}
	if res.Distance != 0 {
		t.Fatalf("distance = %d, want 0", res.Distance)
	}

	res, err = f.pipeline.CheckIn(ctx, uuid.NewString(), request("paris", 48.8600, parisLon))
	if err != nil {
		t.Fatalf("378 m: %v", err)
	}
	if res.Distance < 377 || res.Distance > 379 {
		t.Fatalf("distance = %d, want ~378", res.Distance)
	}
	if res.CheckIn.ValidatedRadius != res.Distance {
		t.Fatalf("validated radius = %d, want %d", res.CheckIn.ValidatedRadius, res.Distance)
	}

	far := uuid.NewString()
	_, err = f.pipeline.CheckIn(ctx, far, request("paris", 48.9000, parisLon))
	if !apperr.Is(err, apperr.KindOutOfRange) {
		t.Fatalf("expected out of range, got %v", err)
	}
	d := apperr.From(err).Distance
	if d == nil || *d < 4823 || *d > 4833 {
		t.Fatalf("distance = %v, want ~4828", d)
	}
	if n := f.checkIns(t, far, "paris"); n != 0 {
		t.Fatalf("out of range attempt stored %d checkins", n)
	}
}

func TestSecondCheckInConflicts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ptr(int64(10)))
	ctx := context.Background()
	userID := uuid.NewString()

	if _, err := f.pipeline.CheckIn(ctx, userID, request("paris", parisLat, parisLon)); err != nil {
		t.Fatalf("first check-in: %v", err)
	}

	variants := []model.CheckInRequest{
		request("paris", parisLat, parisLon),
		request("paris", 48.8590, parisLon),
		{EventID: "paris", Lat: ptr(parisLat), Lon: ptr(parisLon), Source: ptr("qr_scan")},
	}
	for i, req := range variants {
		_, err := f.pipeline.CheckIn(ctx, userID, req)
		if !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("variant %d: expected conflict, got %v", i, err)
		}
	}
	if n := f.checkIns(t, userID, "paris"); n != 1 {
		t.Fatalf("checkins = %d, want 1", n)
	}
	if txs := f.transactions(t, userID); len(txs) != 1 {
		t.Fatalf("ledger transactions = %d, want 1", len(txs))
	}
	if b := f.balance(t, userID); b != 10 {
		t.Fatalf("balance = %d, want 10", b)
	}
}

func TestConcurrentSameEventSingleCheckIn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ptr(int64(10)))
	userID := uuid.NewString()

	const attempts = 6
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pipeline.CheckIn(context.Background(), userID, request("paris", parisLat, parisLon))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		if !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("loser must see a conflict, got %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("successes = %d, want 1", ok)
	}
	if txs := f.transactions(t, userID); len(txs) != 1 {
		t.Fatalf("ledger transactions = %d, want 1", len(txs))
	}
}

func TestQRToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		eventID string
		token   *string
		lat     float64
		kind    apperr.Kind
	}{
		{"mismatch at zero distance", "paris-qr", ptr("wrong"), parisLat, apperr.KindTokenMismatch},
		{"token for event without secret", "paris", ptr("anything"), parisLat, apperr.KindTokenMismatch},
		{"mismatch wins over distance", "paris-qr", ptr("wrong"), 48.9000, apperr.KindTokenMismatch},
		{"match but out of range", "paris-qr", ptr("qr-secret"), 48.9000, apperr.KindOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(tt.eventID, tt.lat, parisLon)
			req.QRToken = tt.token
			_, err := f.pipeline.CheckIn(ctx, uuid.NewString(), req)
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
		})
	}

	req := request("paris-qr", parisLat, parisLon)
	req.QRToken = ptr("qr-secret")
	req.Source = ptr("qr_scan")
	res, err := f.pipeline.CheckIn(ctx, uuid.NewString(), req)
	if err != nil {
		t.Fatalf("matching token: %v", err)
	}
	if res.CheckIn.Source != model.SourceQRScan {
		t.Fatalf("source = %q, want qr_scan", res.CheckIn.Source)
	}

	// Without a token the geofence alone decides, even for QR events.
	res, err = f.pipeline.CheckIn(ctx, uuid.NewString(), request("paris-qr", parisLat, parisLon))
	if err != nil {
		t.Fatalf("no token: %v", err)
	}
	if res.CheckIn.Source != model.SourceManual {
		t.Fatalf("source = %q, want manual", res.CheckIn.Source)
	}
}

func TestNoRewardStillSucceeds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		amount  *int64
		ruleErr error
	}{
		{"no rule", nil, nil},
		{"zero amount", ptr(int64(0)), nil},
		{"lookup error", ptr(int64(10)), errors.New("rules table unreachable")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.amount)
			f.store.ruleErr = tt.ruleErr
			userID := uuid.NewString()

			res, err := f.pipeline.CheckIn(context.Background(), userID, request("paris", parisLat, parisLon))
			if err != nil {
				t.Fatalf("check-in must succeed: %v", err)
			}
			if res.Rewarded() {
				t.Fatal("expected no reward")
			}
			if txs := f.transactions(t, userID); len(txs) != 0 {
				t.Fatalf("ledger transactions = %d, want 0", len(txs))
			}
			if len(f.bus.messages[repository.TopicRewardIssued]) != 0 {
				t.Fatal("no reward event expected")
			}
		})
	}
}

func TestRewardedCheckInsAccumulate(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ptr(int64(10)))
	ctx := context.Background()
	userID := uuid.NewString()

	res, err := f.pipeline.CheckIn(ctx, userID, request("paris", parisLat, parisLon))
	if err != nil {
		t.Fatalf("first event: %v", err)
	}
	if !res.Rewarded() || res.Transaction.Amount != 10 {
		t.Fatalf("expected 10 credited, got %+v", res.Transaction)
	}
	if b := f.balance(t, userID); b != 10 {
		t.Fatalf("balance = %d, want 10", b)
	}

	if _, err := f.pipeline.CheckIn(ctx, userID, request("paris-2", parisLat, parisLon)); err != nil {
		t.Fatalf("second event: %v", err)
	}
	if b := f.balance(t, userID); b != 20 {
		t.Fatalf("balance = %d, want 20", b)
	}

	txs := f.transactions(t, userID)
	if len(txs) != 2 {
		t.Fatalf("ledger transactions = %d, want 2", len(txs))
	}
	seen := map[any]bool{}
	for _, tx := range txs {
		if tx.Type != model.TransactionCredit || tx.Amount != 10 {
			t.Fatalf("tx = %+v", tx)
		}
		seen[tx.Metadata["event_id"]] = true
	}
	if !seen["paris"] || !seen["paris-2"] {
		t.Fatalf("metadata event ids = %v", seen)
	}

	msgs := f.bus.messages[repository.TopicRewardIssued]
	if len(msgs) != 2 {
		t.Fatalf("published = %d, want 2", len(msgs))
	}
	var evt model.RewardIssued
	if err := json.Unmarshal(msgs[0], &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.UserID != userID || evt.Amount != 10 || evt.EventID != "paris" {
		t.Fatalf("event = %+v", evt)
	}
}

func TestConcurrentRewardsNoLostUpdates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ptr(int64(10)))
	userID := uuid.NewString()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, eventID := range []string{"paris", "paris-2"} {
		wg.Add(1)
		go func(eventID string) {
			defer wg.Done()
			_, err := f.pipeline.CheckIn(context.Background(), userID, request(eventID, parisLat, parisLon))
			errs <- err
		}(eventID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("check-in: %v", err)
		}
	}

	if b := f.balance(t, userID); b != 20 {
		t.Fatalf("balance = %d, want 20", b)
	}
	sum, err := f.store.LedgerSum(context.Background(), userID)
	if err != nil {
		t.Fatalf("ledger sum: %v", err)
	}
	if sum != 20 {
		t.Fatalf("ledger sum = %d, want 20", sum)
	}
}

func TestLedgerWriteFailureKeepsCheckIn(t *testing.T) {
	t.Parallel()
	f := newFixture(t, ptr(int64(10)))
	f.store.appendErr = errors.New("ledger partition offline")
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := f.pipeline.CheckIn(ctx, userID, request("paris", parisLat, parisLon))
	if !apperr.Is(err, apperr.KindLedgerWrite) {
		t.Fatalf("expected ledger write error, got %v", err)
	}
	if n := f.checkIns(t, userID, "paris"); n != 1 {
		t.Fatalf("checkins = %d, want 1", n)
	}

	f.store.appendErr = nil
	_, err = f.pipeline.CheckIn(ctx, userID, request("paris", parisLat, parisLon))
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("retry must conflict, got %v", err)
	}
	if b := f.balance(t, userID); b != 0 {
		t.Fatalf("balance = %d, want 0", b)
	}
}

func TestCheckInRejectsBadInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	tests := []struct {
		name string
		req  model.CheckInRequest
		kind apperr.Kind
	}{
		{"missing event", request("", parisLat, parisLon), apperr.KindValidation},
		{"missing lat", model.CheckInRequest{EventID: "paris", Lon: ptr(parisLon)}, apperr.KindValidation},
		{"latitude out of range", request("paris", 91, parisLon), apperr.KindValidation},
		{"unknown event", request("nope", parisLat, parisLon), apperr.KindNotFound},
		{"event without coordinates", request("no-geo", parisLat, parisLon), apperr.KindGeoData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.pipeline.CheckIn(context.Background(), uuid.NewString(), tt.req)
			if !apperr.Is(err, tt.kind) {
				t.Fatalf("expected %s, got %v", tt.kind, err)
			}
		})
	}
}

func TestCheckInHonoursCancelledContext(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	if _, err := f.pipeline.CheckIn(ctx, uuid.NewString(), request("paris", parisLat, parisLon)); err == nil {
		t.Fatal("expected an error for an expired context")
	}
}
