package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
	"escrowline/contexts/deal-governance/invitation-service/domain/services"
	"escrowline/contexts/deal-governance/invitation-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Repository is the gorm adapter for invitations. Accept and decline lock
// the deal row first; activation is a conditional update on deal status.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) AcceptInvitation(ctx context.Context, input ports.AcceptInput) (ports.AcceptOutcome, error) {
	var outcome ports.AcceptOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, deal, err := lockInvitation(tx, input.Token)
		if err != nil {
			return err
		}
		already, err := services.CheckAccept(party)
		if err != nil {
			return err
		}
		if already {
			outcome = ports.AcceptOutcome{Party: party, Deal: deal, AlreadyAccepted: true}
			return nil
		}

		next := services.Accept(party, input.AcceptedAt)
		if err := updatePartyStatus(tx, next); err != nil {
			return err
		}
		membership := entities.Membership{
			MembershipID: input.MembershipID,
			DealID:       deal.DealID,
			PartyID:      party.PartyID,
			JoinedAt:     input.AcceptedAt.UTC(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "deal_id"}, {Name: "party_id"}},
			DoNothing: true,
		}).Create(&membershipModel{
			MembershipID: membership.MembershipID,
			DealID:       membership.DealID,
			PartyID:      membership.PartyID,
			JoinedAt:     membership.JoinedAt,
		}).Error; err != nil {
			return err
		}
		if err := appendOutbox(tx, input.OutboxIDs[0], events.InvitationAccepted, next, deal, membership.MembershipID, input.AcceptedAt); err != nil {
			return err
		}
		outcome = ports.AcceptOutcome{Party: next, Deal: deal, Membership: &membership}

		var outstanding int64
		if err := tx.Model(&partyModel{}).
			Where("deal_id = ? AND invitation_status <> ?", deal.DealID, string(entities.InvitationAccepted)).
			Count(&outstanding).Error; err != nil {
			return err
		}
		if outstanding > 0 || deal.Status != entities.DealPending {
			return nil
		}
		activatedAt := input.AcceptedAt.UTC()
		swap := tx.Model(&dealModel{}).
			Where("deal_id = ? AND status = ?", deal.DealID, string(entities.DealPending)).
			Updates(map[string]any{
				"status":       string(entities.DealActive),
				"activated_at": activatedAt,
			})
		if swap.Error != nil {
			return swap.Error
		}
		if swap.RowsAffected != 1 {
			return nil
		}
		deal.Status = entities.DealActive
		deal.ActivatedAt = &activatedAt
		outcome.Deal = deal
		outcome.DealActivated = true
		return appendOutbox(tx, input.OutboxIDs[1], events.DealActivated, next, deal, "", input.AcceptedAt)
	})
	if err != nil {
		return ports.AcceptOutcome{}, r.classify("invitation_repo_accept_failed", err)
	}
	return outcome, nil
}

func (r *Repository) DeclineInvitation(ctx context.Context, input ports.DeclineInput) (ports.DeclineOutcome, error) {
	var outcome ports.DeclineOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		party, deal, err := lockInvitation(tx, input.Token)
		if err != nil {
			return err
		}
		already, err := services.CheckDecline(party)
		if err != nil {
			return err
		}
		if already {
			outcome = ports.DeclineOutcome{Party: party, Deal: deal, AlreadyDeclined: true}
			return nil
		}
		next := services.Decline(party, input.Reason, input.DeclinedAt)
		if err := updatePartyStatus(tx, next); err != nil {
			return err
		}
		outcome = ports.DeclineOutcome{Party: next, Deal: deal}
		return appendOutbox(tx, input.OutboxID, events.InvitationDeclined, next, deal, "", input.DeclinedAt)
	})
	if err != nil {
		return ports.DeclineOutcome{}, r.classify("invitation_repo_decline_failed", err)
	}
	return outcome, nil
}

func (r *Repository) GetDeal(ctx context.Context, dealID string) (entities.Deal, error) {
	var row dealModel
	err := r.db.WithContext(ctx).Where("deal_id = ?", strings.TrimSpace(dealID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Deal{}, domainerrors.ErrDealNotFound
		}
		return entities.Deal{}, r.logError("invitation_repo_get_deal_failed", err, "deal_id", dealID)
	}
	return row.toEntity(), nil
}

func (r *Repository) ListParties(ctx context.Context, dealID string) ([]entities.Party, error) {
	if _, err := r.GetDeal(ctx, dealID); err != nil {
		return nil, err
	}
	var rows []partyModel
	if err := r.db.WithContext(ctx).
		Where("deal_id = ?", strings.TrimSpace(dealID)).
		Order("position ASC, party_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("invitation_repo_list_parties_failed", err, "deal_id", dealID)
	}
	parties := make([]entities.Party, 0, len(rows))
	for _, row := range rows {
		parties = append(parties, row.toEntity())
	}
	return parties, nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("invitation_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:  row.OutboxID,
			EventType: row.EventType,
			Payload:   append([]byte(nil), row.Payload...),
			CreatedAt: row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("invitation_repo_mark_outbox_published_failed", result.Error, "outbox_id", outboxID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return nil
}

// lockInvitation resolves the token, locks the deal row and then re-reads
// the party under that lock.
func lockInvitation(tx *gorm.DB, token string) (entities.Party, entities.Deal, error) {
	var located partyModel
	if err := tx.Select("deal_id").
		Where("invitation_token = ?", token).
		First(&located).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Party{}, entities.Deal{}, domainerrors.ErrInvalidToken
		}
		return entities.Party{}, entities.Deal{}, err
	}
	var deal dealModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("deal_id = ?", located.DealID).
		First(&deal).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Party{}, entities.Deal{}, domainerrors.ErrDealNotFound
		}
		return entities.Party{}, entities.Deal{}, err
	}
	var party partyModel
	if err := tx.Where("invitation_token = ? AND deal_id = ?", token, located.DealID).
		First(&party).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Party{}, entities.Deal{}, domainerrors.ErrInvalidToken
		}
		return entities.Party{}, entities.Deal{}, err
	}
	return party.toEntity(), deal.toEntity(), nil
}

func updatePartyStatus(tx *gorm.DB, next entities.Party) error {
	update := tx.Model(&partyModel{}).
		Where("deal_id = ? AND party_id = ? AND invitation_status = ?", next.DealID, next.PartyID, string(entities.InvitationPending)).
		Updates(map[string]any{
			"invitation_status": string(next.InvitationStatus),
			"responded_at":      next.RespondedAt,
			"decline_reason":    next.DeclineReason,
		})
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return nil
}

func appendOutbox(
	tx *gorm.DB,
	outboxID string,
	eventType string,
	party entities.Party,
	deal entities.Deal,
	membershipID string,
	at time.Time,
) error {
	envelope, err := ports.NewInvitationEnvelope(outboxID, eventType, party, deal, membershipID, at)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return tx.Create(&outboxModel{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.PartitionKey,
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt,
	}).Error
}

func (r *Repository) classify(event string, err error, attrs ...any) error {
	var classified *faults.Error
	if errors.As(err, &classified) {
		return err
	}
	if isSerializationFailure(err) {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return r.logError(event, err, attrs...)
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "deal-governance/invitation-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("invitation repository operation failed", fields...)
	return err
}

type dealModel struct {
	DealID      string     `gorm:"column:deal_id;primaryKey"`
	Status      string     `gorm:"column:status"`
	ActivatedAt *time.Time `gorm:"column:activated_at"`
	CreatedAt   time.Time  `gorm:"column:created_at"`
}

func (dealModel) TableName() string {
	return "deals"
}

func (m dealModel) toEntity() entities.Deal {
	deal := entities.Deal{
		DealID:    m.DealID,
		Status:    entities.DealStatus(m.Status),
		CreatedAt: m.CreatedAt.UTC(),
	}
	if m.ActivatedAt != nil {
		activatedAt := m.ActivatedAt.UTC()
		deal.ActivatedAt = &activatedAt
	}
	return deal
}

type partyModel struct {
	PartyID          string     `gorm:"column:party_id;primaryKey"`
	DealID           string     `gorm:"column:deal_id;primaryKey"`
	Role             string     `gorm:"column:role"`
	Email            string     `gorm:"column:email"`
	InvitationStatus string     `gorm:"column:invitation_status"`
	InvitationToken  string     `gorm:"column:invitation_token"`
	RespondedAt      *time.Time `gorm:"column:responded_at"`
	DeclineReason    string     `gorm:"column:decline_reason"`
	Position         int        `gorm:"column:position"`
}

func (partyModel) TableName() string {
	return "deal_parties"
}

func (m partyModel) toEntity() entities.Party {
	party := entities.Party{
		PartyID:          m.PartyID,
		DealID:           m.DealID,
		Role:             m.Role,
		Email:            m.Email,
		InvitationStatus: entities.InvitationStatus(m.InvitationStatus),
		InvitationToken:  m.InvitationToken,
		DeclineReason:    m.DeclineReason,
		Position:         m.Position,
	}
	if m.RespondedAt != nil {
		respondedAt := m.RespondedAt.UTC()
		party.RespondedAt = &respondedAt
	}
	return party
}

type membershipModel struct {
	MembershipID string    `gorm:"column:membership_id;primaryKey"`
	DealID       string    `gorm:"column:deal_id"`
	PartyID      string    `gorm:"column:party_id"`
	JoinedAt     time.Time `gorm:"column:joined_at"`
}

func (membershipModel) TableName() string {
	return "deal_memberships"
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "invitation_outbox"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

var _ ports.Repository = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
