package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"lumo/internal/apperr"
	"lumo/internal/geo"
	"lumo/internal/ledger"
	"lumo/internal/model"
	"lumo/internal/repository"
)

const rewardReason = "Event check-in reward"

// CheckInService is what transports depend on.
type CheckInService interface {
	CheckIn(ctx context.Context, userID string, req model.CheckInRequest) (*model.CheckInResult, error)
	Balance(ctx context.Context, userID string) (int64, error)
	Ping(ctx context.Context) error
}

// RewardLookup resolves the check-in reward. It never fails; "no reward" is
// reported as ok == false.
type RewardLookup interface {
	CheckIn(ctx context.Context) (amount int64, ok bool)
}

// Pipeline runs one check-in: locate the event, gate on QR and distance,
// record the check-in, then credit the reward. It holds no per-request state.
type Pipeline struct {
	store   repository.Store
	rewards RewardLookup
	ledger  *ledger.Writer
	bus     repository.MessageBus
	now     func() time.Time
}

func NewPipeline(store repository.Store, rewards RewardLookup, bus repository.MessageBus) *Pipeline {
	if bus == nil {
		bus = repository.NoopBus{}
	}
	return &Pipeline{
		store:   store,
		rewards: rewards,
		ledger:  ledger.NewWriter(store),
		bus:     bus,
		now:     time.Now,
	}
}

func (p *Pipeline) CheckIn(ctx context.Context, userID string, req model.CheckInRequest) (*model.CheckInResult, error) {
	reported, err := validateRequest(req)
	if err != nil {
		return nil, err
	}
	eventID := strings.TrimSpace(req.EventID)

	event, eventPos, err := p.locateEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	// QR gate first, then the geofence.
	if err := geo.CheckToken(normalizeToken(req.QRToken), event.QRSecret); err != nil {
		slog.Info("checkin: qr token rejected", "user_id", userID, "event_id", eventID)
		return nil, err
	}
	distance, err := geo.CheckRadius(reported, eventPos)
	if err != nil {
		slog.Info("checkin: out of range", "user_id", userID, "event_id", eventID, "distance", distance)
		return nil, err
	}

	checkIn := model.CheckIn{
		ID:              uuid.NewString(),
		UserID:          userID,
		EventID:         eventID,
		Latitude:        reported.Lat,
		Longitude:       reported.Lon,
		ValidatedRadius: distance,
		Source:          model.ParseSource(req.Source),
		CreatedAt:       p.now().UTC(),
	}
	if err := p.recordCheckIn(ctx, checkIn); err != nil {
		return nil, err
	}
	result := &model.CheckInResult{CheckIn: checkIn, Distance: distance}

	amount, ok := p.rewards.CheckIn(ctx)
	if !ok {
		return result, nil
	}

	tx, err := p.ledger.Credit(ctx, ledger.Credit{
		UserID:      userID,
		Amount:      amount,
		Source:      model.TriggerCheckIn,
		Reason:      rewardReason,
		ReferenceID: checkIn.ID,
		Metadata: map[string]any{
			"event_id":   eventID,
			"distance":   distance,
			"checkin_id": checkIn.ID,
			"source":     string(checkIn.Source),
		},
	})
	if err != nil {
		slog.Error("checkin: recorded but reward not appended",
			"user_id", userID,
			"event_id", eventID,
			"checkin_id", checkIn.ID,
			"amount", amount,
			"error", err,
		)
		return nil, err
	}
	result.Transaction = tx
	p.publishReward(tx, checkIn)
	return result, nil
}

func (p *Pipeline) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := p.ledger.Balance(ctx, userID)
	if err != nil {
		return 0, apperr.Internal(fmt.Errorf("read balance for %s: %w", userID, err))
	}
	return balance, nil
}

func (p *Pipeline) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

func (p *Pipeline) locateEvent(ctx context.Context, eventID string) (*model.Event, geo.Point, error) {
	event, err := p.store.GetEvent(ctx, eventID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, geo.Point{}, apperr.NotFound("Event not found")
	}
	if err != nil {
		return nil, geo.Point{}, apperr.Internal(fmt.Errorf("get event %s: %w", eventID, err))
	}
	if event.Latitude == nil || event.Longitude == nil || !geo.ValidCoordinates(*event.Latitude, *event.Longitude) {
		return nil, geo.Point{}, apperr.GeoData("Event location is unavailable",
			fmt.Errorf("event %s has invalid stored coordinates", eventID))
	}
	return event, geo.Point{Lat: *event.Latitude, Lon: *event.Longitude}, nil
}

// recordCheckIn relies on the store's (user, event) uniqueness to arbitrate
// concurrent attempts.
func (p *Pipeline) recordCheckIn(ctx context.Context, c model.CheckIn) error {
	err := p.store.InsertCheckIn(ctx, c)
	if errors.Is(err, repository.ErrDuplicate) {
		return apperr.Conflict("Already checked in to this event")
	}
	if err != nil {
		return apperr.Internal(fmt.Errorf("insert checkin: %w", err))
	}
	return nil
}

func (p *Pipeline) publishReward(tx *model.LedgerTransaction, c model.CheckIn) {
	data, err := json.Marshal(model.RewardIssued{
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		EventID:       c.EventID,
		CheckInID:     c.ID,
		Amount:        tx.Amount,
		CreatedAt:     tx.CreatedAt,
	})
	if err != nil {
		slog.Warn("checkin: marshal reward event", "error", err)
		return
	}
	if err := p.bus.Publish(repository.TopicRewardIssued, data); err != nil {
		slog.Warn("checkin: publish reward event", "transaction_id", tx.ID, "error", err)
	}
}

func validateRequest(req model.CheckInRequest) (geo.Point, error) {
	if strings.TrimSpace(req.EventID) == "" {
		return geo.Point{}, apperr.Validation("Missing eventId")
	}
	if req.Lat == nil || req.Lon == nil {
		return geo.Point{}, apperr.Validation("Missing coordinates")
	}
	if !geo.ValidCoordinates(*req.Lat, *req.Lon) {
		return geo.Point{}, apperr.Validation("Invalid coordinates")
	}
	return geo.Point{Lat: *req.Lat, Lon: *req.Lon}, nil
}

// normalizeToken treats an empty token the same as an absent one.
func normalizeToken(token *string) *string {
	if token == nil || strings.TrimSpace(*token) == "" {
		return nil
	}
	return token
}

var _ CheckInService = (*Pipeline)(nil)
