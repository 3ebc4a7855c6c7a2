package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/domain/services"
	"escrowline/contexts/deal-governance/amendment-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Repository is the gorm adapter for amendments. Response and resolution
// writes lock the amendment row and read the party set in the same
// transaction, so the status they compute cannot be raced.
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

func (r *Repository) GetDeal(ctx context.Context, dealID string) (entities.Deal, error) {
	deal, err := loadDeal(r.db.WithContext(ctx), dealID)
	if err != nil {
		return entities.Deal{}, r.classify("amendment_repo_get_deal_failed", err, "deal_id", dealID)
	}
	return deal, nil
}

func (r *Repository) ListParties(ctx context.Context, dealID string) ([]entities.Party, error) {
	db := r.db.WithContext(ctx)
	if _, err := loadDeal(db, dealID); err != nil {
		return nil, r.classify("amendment_repo_list_parties_failed", err, "deal_id", dealID)
	}
	parties, err := loadParties(db, dealID)
	if err != nil {
		return nil, r.logError("amendment_repo_list_parties_failed", err, "deal_id", dealID)
	}
	return parties, nil
}

func (r *Repository) GetAmendment(ctx context.Context, amendmentID string) (entities.Amendment, error) {
	var row amendmentModel
	err := r.db.WithContext(ctx).
		Where("amendment_id = ?", strings.TrimSpace(amendmentID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Amendment{}, domainerrors.ErrAmendmentNotFound
		}
		return entities.Amendment{}, r.logError("amendment_repo_get_amendment_failed", err, "amendment_id", amendmentID)
	}
	amendment, err := row.toEntity()
	if err != nil {
		return entities.Amendment{}, r.logError("amendment_repo_decode_amendment_failed", err, "amendment_id", amendmentID)
	}
	return amendment, nil
}

func (r *Repository) ListAmendmentsByDeal(ctx context.Context, dealID string) ([]entities.Amendment, error) {
	db := r.db.WithContext(ctx)
	if _, err := loadDeal(db, dealID); err != nil {
		return nil, r.classify("amendment_repo_list_amendments_failed", err, "deal_id", dealID)
	}
	var rows []amendmentModel
	if err := db.
		Where("deal_id = ?", strings.TrimSpace(dealID)).
		Order("created_at ASC, amendment_id ASC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("amendment_repo_list_amendments_failed", err, "deal_id", dealID)
	}
	items := make([]entities.Amendment, 0, len(rows))
	for _, row := range rows {
		item, err := row.toEntity()
		if err != nil {
			return nil, r.logError("amendment_repo_decode_amendment_failed", err, "amendment_id", row.AmendmentID)
		}
		items = append(items, item)
	}
	return items, nil
}

func (r *Repository) CreateAmendment(ctx context.Context, input ports.CreateAmendmentInput) (entities.Amendment, error) {
	amendment := input.Amendment.Clone()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := loadDeal(tx, amendment.DealID); err != nil {
			return err
		}
		parties, err := loadParties(tx, amendment.DealID)
		if err != nil {
			return err
		}
		if !services.IsCurrentParty(parties, amendment.ProposerID) {
			return domainerrors.ErrNotCurrentParty
		}
		if amendment.SupersedesID != "" {
			previous, err := lockAmendment(tx, amendment.SupersedesID)
			if errors.Is(err, domainerrors.ErrAmendmentNotFound) {
				return domainerrors.ErrInvalidSupersede
			}
			if err != nil {
				return err
			}
			if err := services.CheckSupersedes(previous, amendment.DealID); err != nil {
				return err
			}
		}
		row, err := amendmentModelFromEntity(amendment)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrIdempotencyConflict
			}
			return err
		}
		return appendOutbox(tx, input.OutboxID, events.AmendmentProposed, amendment.ProposerID, amendment, "", amendment.CreatedAt)
	})
	if err != nil {
		return entities.Amendment{}, r.classify("amendment_repo_create_amendment_failed", err,
			"amendment_id", amendment.AmendmentID,
			"deal_id", amendment.DealID,
		)
	}
	return amendment, nil
}

func (r *Repository) RespondToAmendment(ctx context.Context, input ports.RespondInput) (services.RespondOutcome, error) {
	var outcome services.RespondOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockAmendment(tx, input.AmendmentID)
		if err != nil {
			return err
		}
		parties, err := loadParties(tx, current.DealID)
		if err != nil {
			return err
		}
		outcome, err = services.ApplyResponse(current, parties, input.Response)
		if err != nil || outcome.AlreadyResponded {
			return err
		}
		if err := saveAmendment(tx, outcome.Amendment, current.Status); err != nil {
			return err
		}

		at := input.Response.RespondedAt
		actorID := input.Response.PartyID
		if err := appendOutbox(tx, input.OutboxIDs[0], events.AmendmentResponded, actorID, outcome.Amendment, current.Status, at); err != nil {
			return err
		}
		switch {
		case !outcome.Transition.Changed():
			return nil
		case outcome.Transition.To == entities.AmendmentStatusApplied:
			return appendOutbox(tx, input.OutboxIDs[1], events.AmendmentApplied, actorID, outcome.Amendment, current.Status, at)
		case outcome.Transition.To == entities.AmendmentStatusDisputed:
			return appendOutbox(tx, input.OutboxIDs[1], events.AmendmentDisputed, actorID, outcome.Amendment, current.Status, at)
		}
		return nil
	})
	if err != nil {
		return services.RespondOutcome{}, r.classify("amendment_repo_respond_failed", err,
			"amendment_id", input.AmendmentID,
			"party_id", input.Response.PartyID,
		)
	}
	return outcome, nil
}

func (r *Repository) ResolveAmendment(ctx context.Context, input ports.ResolveInput) (services.ResolveOutcome, error) {
	var outcome services.ResolveOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := lockAmendment(tx, input.AmendmentID)
		if err != nil {
			return err
		}
		outcome, err = services.ApplyResolution(current, input.Resolution)
		if err != nil {
			return err
		}
		if err := saveAmendment(tx, outcome.Amendment, current.Status); err != nil {
			return err
		}
		at := input.Resolution.ResolvedAt
		actorID := input.Resolution.ResolvedBy
		if err := appendOutbox(tx, input.OutboxIDs[0], events.AmendmentResolved, actorID, outcome.Amendment, current.Status, at); err != nil {
			return err
		}
		if outcome.Transition.AppliedNow() {
			return appendOutbox(tx, input.OutboxIDs[1], events.AmendmentApplied, actorID, outcome.Amendment, current.Status, at)
		}
		return nil
	})
	if err != nil {
		return services.ResolveOutcome{}, r.classify("amendment_repo_resolve_failed", err,
			"amendment_id", input.AmendmentID,
			"admin_id", input.Resolution.ResolvedBy,
		)
	}
	return outcome, nil
}

// ReconcileParties locks the deal row, applies the party change, then locks
// and re-decides every pending amendment of the deal against the party set
// read in the same transaction.
func (r *Repository) ReconcileParties(ctx context.Context, input ports.ReconcilePartiesInput) ([]services.RosterOutcome, error) {
	var outcomes []services.RosterOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcomes = nil
		if err := lockDeal(tx, input.DealID); err != nil {
			return err
		}
		if input.Change != nil {
			if err := applyPartyChange(tx, input.DealID, *input.Change); err != nil {
				return err
			}
		}

		var rows []amendmentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("deal_id = ? AND status = ?", input.DealID, string(entities.AmendmentStatusPending)).
			Order("created_at ASC, amendment_id ASC").
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		parties, err := loadParties(tx, input.DealID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			current, err := row.toEntity()
			if err != nil {
				return err
			}
			outcome, changed := services.SettleAfterRosterChange(current, parties, input.At)
			if !changed {
				continue
			}
			if err := saveAmendment(tx, outcome.Amendment, current.Status); err != nil {
				return err
			}
			if outcome.Transition.AppliedNow() {
				if err := appendOutbox(tx, uuid.NewString(), events.AmendmentApplied, input.ActorID, outcome.Amendment, current.Status, input.At); err != nil {
					return err
				}
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	})
	if err != nil {
		return nil, r.classify("amendment_repo_reconcile_parties_failed", err,
			"deal_id", input.DealID,
		)
	}
	return outcomes, nil
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
		return nil, r.logError("amendment_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("amendment_repo_mark_outbox_published_failed", result.Error, "outbox_id", outboxID)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return nil
}

func lockAmendment(tx *gorm.DB, amendmentID string) (entities.Amendment, error) {
	var row amendmentModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("amendment_id = ?", strings.TrimSpace(amendmentID)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Amendment{}, domainerrors.ErrAmendmentNotFound
		}
		return entities.Amendment{}, err
	}
	return row.toEntity()
}

// saveAmendment writes next only if the row still has the status it was
// locked with.
func saveAmendment(tx *gorm.DB, next entities.Amendment, from entities.AmendmentStatus) error {
	row, err := amendmentModelFromEntity(next)
	if err != nil {
		return err
	}
	update := tx.Model(&amendmentModel{}).
		Where("amendment_id = ? AND status = ?", row.AmendmentID, string(from)).
		Updates(map[string]any{
			"status":           row.Status,
			"responses":        row.Responses,
			"admin_resolution": row.AdminResolution,
			"updated_at":       row.UpdatedAt,
			"applied_at":       row.AppliedAt,
		})
	if update.Error != nil {
		return update.Error
	}
	if update.RowsAffected == 0 {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return nil
}

func lockDeal(tx *gorm.DB, dealID string) error {
	var row dealModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("deal_id = ?", strings.TrimSpace(dealID)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainerrors.ErrDealNotFound
	}
	return err
}

func applyPartyChange(tx *gorm.DB, dealID string, change entities.PartyChange) error {
	scope := tx.Where("deal_id = ? AND party_id = ?", dealID, change.PartyID)
	if change.Removed {
		return scope.Delete(&partyModel{}).Error
	}
	return scope.Model(&partyModel{}).
		Update("invitation_status", string(change.Status)).Error
}

func loadDeal(db *gorm.DB, dealID string) (entities.Deal, error) {
	var row dealModel
	err := db.Where("deal_id = ?", strings.TrimSpace(dealID)).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Deal{}, domainerrors.ErrDealNotFound
		}
		return entities.Deal{}, err
	}
	return entities.Deal{DealID: row.DealID, Status: row.Status}, nil
}

func loadParties(db *gorm.DB, dealID string) ([]entities.Party, error) {
	var rows []partyModel
	if err := db.
		Where("deal_id = ?", strings.TrimSpace(dealID)).
		Order("position ASC, party_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	parties := make([]entities.Party, 0, len(rows))
	for _, row := range rows {
		parties = append(parties, entities.Party{
			PartyID:          row.PartyID,
			DealID:           row.DealID,
			InvitationStatus: entities.InvitationStatus(row.InvitationStatus),
		})
	}
	return parties, nil
}

func appendOutbox(
	tx *gorm.DB,
	outboxID string,
	eventType string,
	actorID string,
	amendment entities.Amendment,
	previous entities.AmendmentStatus,
	at time.Time,
) error {
	envelope, err := ports.NewAmendmentEnvelope(outboxID, eventType, actorID, amendment, previous, at)
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
		"module", "deal-governance/amendment-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("amendment repository operation failed", fields...)
	return err
}

type dealModel struct {
	DealID      string     `gorm:"column:deal_id;primaryKey"`
	Status      string     `gorm:"column:status"`
	ActivatedAt *time.Time `gorm:"column:activated_at"`
}

func (dealModel) TableName() string {
	return "deals"
}

type partyModel struct {
	PartyID          string `gorm:"column:party_id;primaryKey"`
	DealID           string `gorm:"column:deal_id;primaryKey"`
	InvitationStatus string `gorm:"column:invitation_status"`
	Position         int    `gorm:"column:position"`
}

func (partyModel) TableName() string {
	return "deal_parties"
}

type amendmentModel struct {
	AmendmentID     string     `gorm:"column:amendment_id;primaryKey"`
	DealID          string     `gorm:"column:deal_id"`
	ProposerID      string     `gorm:"column:proposer_id"`
	Status          string     `gorm:"column:status"`
	ProposedChanges []byte     `gorm:"column:proposed_changes;type:jsonb"`
	Responses       []byte     `gorm:"column:responses;type:jsonb"`
	AdminResolution []byte     `gorm:"column:admin_resolution;type:jsonb"`
	SupersedesID    *string    `gorm:"column:supersedes_id"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	AppliedAt       *time.Time `gorm:"column:applied_at"`
}

func (amendmentModel) TableName() string {
	return "amendments"
}

func amendmentModelFromEntity(amendment entities.Amendment) (amendmentModel, error) {
	changes, err := json.Marshal(amendment.ProposedChanges)
	if err != nil {
		return amendmentModel{}, err
	}
	responses := amendment.Responses
	if responses == nil {
		responses = []entities.PartyResponse{}
	}
	encodedResponses, err := json.Marshal(responses)
	if err != nil {
		return amendmentModel{}, err
	}
	row := amendmentModel{
		AmendmentID:     amendment.AmendmentID,
		DealID:          amendment.DealID,
		ProposerID:      amendment.ProposerID,
		Status:          string(amendment.Status),
		ProposedChanges: changes,
		Responses:       encodedResponses,
		CreatedAt:       amendment.CreatedAt.UTC(),
		UpdatedAt:       amendment.UpdatedAt.UTC(),
	}
	if amendment.AdminResolution != nil {
		resolution, err := json.Marshal(amendment.AdminResolution)
		if err != nil {
			return amendmentModel{}, err
		}
		row.AdminResolution = resolution
	}
	if amendment.SupersedesID != "" {
		supersedesID := amendment.SupersedesID
		row.SupersedesID = &supersedesID
	}
	if amendment.AppliedAt != nil {
		appliedAt := amendment.AppliedAt.UTC()
		row.AppliedAt = &appliedAt
	}
	return row, nil
}

func (m amendmentModel) toEntity() (entities.Amendment, error) {
	amendment := entities.Amendment{
		AmendmentID: m.AmendmentID,
		DealID:      m.DealID,
		ProposerID:  m.ProposerID,
		Status:      entities.AmendmentStatus(m.Status),
		Responses:   []entities.PartyResponse{},
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
	if len(m.ProposedChanges) > 0 {
		if err := json.Unmarshal(m.ProposedChanges, &amendment.ProposedChanges); err != nil {
			return entities.Amendment{}, err
		}
	}
	if len(m.Responses) > 0 {
		if err := json.Unmarshal(m.Responses, &amendment.Responses); err != nil {
			return entities.Amendment{}, err
		}
	}
	if len(m.AdminResolution) > 0 {
		var resolution entities.AdminResolution
		if err := json.Unmarshal(m.AdminResolution, &resolution); err != nil {
			return entities.Amendment{}, err
		}
		amendment.AdminResolution = &resolution
	}
	if m.SupersedesID != nil {
		amendment.SupersedesID = *m.SupersedesID
	}
	if m.AppliedAt != nil {
		appliedAt := m.AppliedAt.UTC()
		amendment.AppliedAt = &appliedAt
	}
	return amendment, nil
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
	return "amendment_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01")
}

var _ ports.Repository = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
