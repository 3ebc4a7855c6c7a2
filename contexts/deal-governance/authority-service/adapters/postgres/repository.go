package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"escrowline/contexts/deal-governance/authority-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/authority-service/domain/errors"
	"escrowline/contexts/deal-governance/authority-service/domain/services"
	"escrowline/contexts/deal-governance/authority-service/ports"
	"escrowline/internal/shared/events"
	"escrowline/internal/shared/faults"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

// Repository is the gorm adapter for delegations, summaries, the outbox and
// consumer dedup. Writes lock the grantee's actor row first so concurrent
// writes for one grantee recompute the summary one at a time.
type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) GetActor(ctx context.Context, actorID string) (entities.Actor, error) {
	var row actorModel
	err := r.db.WithContext(ctx).
		Where("actor_id = ?", strings.TrimSpace(actorID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Actor{}, domainerrors.ErrActorNotFound
		}
		return entities.Actor{}, r.logError("authority_repo_get_actor_failed", err, "actor_id", actorID)
	}
	return row.toEntity(), nil
}

func (r *Repository) GetDelegation(ctx context.Context, delegationID string) (entities.Delegation, error) {
	var row delegationModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(delegationID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Delegation{}, domainerrors.ErrDelegationNotFound
		}
		return entities.Delegation{}, r.logError("authority_repo_get_delegation_failed", err, "delegation_id", delegationID)
	}
	return row.toEntity()
}

func (r *Repository) ListDelegationsByGrantee(ctx context.Context, granteeID string) ([]entities.Delegation, error) {
	var rows []delegationModel
	if err := r.db.WithContext(ctx).
		Where("grantee_id = ?", strings.TrimSpace(granteeID)).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("authority_repo_list_by_grantee_failed", err, "grantee_id", granteeID)
	}
	return toDelegationEntities(rows)
}

func (r *Repository) ListDelegationsByGrantor(ctx context.Context, grantorID string) ([]entities.Delegation, error) {
	var rows []delegationModel
	if err := r.db.WithContext(ctx).
		Where("grantor_id = ?", strings.TrimSpace(grantorID)).
		Order("created_at DESC, id DESC").
		Find(&rows).Error; err != nil {
		return nil, r.logError("authority_repo_list_by_grantor_failed", err, "grantor_id", grantorID)
	}
	return toDelegationEntities(rows)
}

func (r *Repository) ListDelegations(ctx context.Context, includeInactive bool) ([]entities.Delegation, error) {
	var rows []delegationModel
	query := r.db.WithContext(ctx).Order("created_at DESC, id DESC")
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, r.logError("authority_repo_list_delegations_failed", err)
	}
	return toDelegationEntities(rows)
}

func (r *Repository) CreateDelegation(ctx context.Context, input ports.CreateDelegationInput) (ports.DelegationMutationResult, error) {
	var result ports.DelegationMutationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockActor(tx, input.Delegation.GranteeID, domainerrors.ErrGranteeNotFound); err != nil {
			return err
		}
		row, err := delegationModelFromEntity(input.Delegation)
		if err != nil {
			return err
		}
		if err := tx.Create(&row).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrInvalidDelegation.WithReason("delegation %s already exists", row.ID)
			}
			return err
		}
		summary, err := refreshSummary(tx, input.Delegation.GranteeID, input.Delegation.CreatedAt)
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, input.OutboxID, events.DelegationGranted, input.Delegation.GrantorID, input.Delegation, input.Delegation.CreatedAt); err != nil {
			return err
		}
		result = ports.DelegationMutationResult{Delegation: input.Delegation, Summary: summary}
		return nil
	})
	if err != nil {
		return ports.DelegationMutationResult{}, r.classify("authority_repo_create_delegation_failed", err,
			"delegation_id", input.Delegation.DelegationID,
			"grantee_id", input.Delegation.GranteeID,
		)
	}
	return result, nil
}

func (r *Repository) UpdateDelegation(ctx context.Context, input ports.UpdateDelegationInput) (ports.DelegationMutationResult, error) {
	var result ports.DelegationMutationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.loadDelegationForGrantee(tx, input.DelegationID)
		if err != nil {
			return err
		}
		if !current.Active {
			return domainerrors.ErrDelegationRevoked
		}
		next := input.Patch.Apply(current, input.UpdatedAt)
		if input.Patch.TouchesAuthority() {
			if err := services.ValidateSpec(next.ApprovalTypes, next.MaxAmount, next.ValidUntil, input.UpdatedAt); err != nil {
				return err
			}
		}
		row, err := delegationModelFromEntity(next)
		if err != nil {
			return err
		}
		if err := tx.Model(&delegationModel{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{
				"approval_types":         row.ApprovalTypes,
				"max_amount":             row.MaxAmount,
				"requires_senior_review": row.RequiresSeniorReview,
				"valid_until":            row.ValidUntil,
				"notes":                  row.Notes,
				"updated_at":             row.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		summary, err := refreshSummary(tx, next.GranteeID, input.UpdatedAt)
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, input.OutboxID, events.DelegationUpdated, input.UpdaterID, next, input.UpdatedAt); err != nil {
			return err
		}
		result = ports.DelegationMutationResult{Delegation: next, Summary: summary}
		return nil
	})
	if err != nil {
		return ports.DelegationMutationResult{}, r.classify("authority_repo_update_delegation_failed", err,
			"delegation_id", input.DelegationID,
		)
	}
	return result, nil
}

func (r *Repository) RevokeDelegation(ctx context.Context, input ports.RevokeDelegationInput) (ports.DelegationMutationResult, error) {
	var result ports.DelegationMutationResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := r.loadDelegationForGrantee(tx, input.DelegationID)
		if err != nil {
			return err
		}
		if !current.Active {
			summary, err := loadSummary(tx, current.GranteeID, input.RevokedAt)
			if err != nil {
				return err
			}
			result = ports.DelegationMutationResult{Delegation: current, Summary: summary, AlreadyRevoked: true}
			return nil
		}
		revokedAt := input.RevokedAt.UTC()
		next := current
		next.Active = false
		next.RevokedAt = &revokedAt
		next.RevokedBy = input.RevokerID
		next.UpdatedAt = revokedAt
		update := tx.Model(&delegationModel{}).
			Where("id = ? AND active = ?", next.DelegationID, true).
			Updates(map[string]any{
				"active":     false,
				"revoked_at": revokedAt,
				"revoked_by": input.RevokerID,
				"updated_at": revokedAt,
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return domainerrors.ErrConcurrentWriteRetry
		}
		summary, err := refreshSummary(tx, next.GranteeID, revokedAt)
		if err != nil {
			return err
		}
		if err := appendOutbox(tx, input.OutboxID, events.DelegationRevoked, input.RevokerID, next, revokedAt); err != nil {
			return err
		}
		result = ports.DelegationMutationResult{Delegation: next, Summary: summary}
		return nil
	})
	if err != nil {
		return ports.DelegationMutationResult{}, r.classify("authority_repo_revoke_delegation_failed", err,
			"delegation_id", input.DelegationID,
		)
	}
	return result, nil
}

func (r *Repository) GetAuthoritySummary(ctx context.Context, actorID string) (entities.AuthoritySummary, error) {
	if _, err := r.GetActor(ctx, actorID); err != nil {
		return entities.AuthoritySummary{}, err
	}
	summary, err := loadSummary(r.db.WithContext(ctx), strings.TrimSpace(actorID), time.Now().UTC())
	if err != nil {
		return entities.AuthoritySummary{}, r.logError("authority_repo_get_summary_failed", err, "actor_id", actorID)
	}
	return summary, nil
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
		return nil, r.logError("authority_repo_list_pending_outbox_failed", err, "limit", limit)
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
		return r.logError("authority_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrConcurrentWriteRetry
	}
	return nil
}

func (r *Repository) ReserveEvent(
	ctx context.Context,
	eventID string,
	payloadHash string,
	expiresAt time.Time,
) (bool, error) {
	row := eventDedupModel{
		EventID:     strings.TrimSpace(eventID),
		PayloadHash: strings.TrimSpace(payloadHash),
		ExpiresAt:   expiresAt.UTC(),
		ProcessedAt: time.Now().UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return false, r.logError("authority_repo_reserve_event_failed", create.Error,
			"event_id", row.EventID,
		)
	}
	if create.RowsAffected > 0 {
		return false, nil
	}

	var existing eventDedupModel
	if err := r.db.WithContext(ctx).
		Select("payload_hash").
		Where("event_id = ?", row.EventID).
		First(&existing).Error; err != nil {
		return false, r.logError("authority_repo_reserve_event_load_existing_failed", err,
			"event_id", row.EventID,
		)
	}
	if existing.PayloadHash != row.PayloadHash {
		return false, domainerrors.ErrIdempotencyConflict
	}
	return true, nil
}

// loadDelegationForGrantee locks the grantee's actor row and then the
// delegation row, in that order on every write path.
func (r *Repository) loadDelegationForGrantee(tx *gorm.DB, delegationID string) (entities.Delegation, error) {
	var probe delegationModel
	if err := tx.Select("grantee_id").
		Where("id = ?", strings.TrimSpace(delegationID)).
		First(&probe).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Delegation{}, domainerrors.ErrDelegationNotFound
		}
		return entities.Delegation{}, err
	}
	if err := lockActor(tx, probe.GranteeID, domainerrors.ErrGranteeNotFound); err != nil {
		return entities.Delegation{}, err
	}
	var row delegationModel
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", strings.TrimSpace(delegationID)).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Delegation{}, domainerrors.ErrDelegationNotFound
		}
		return entities.Delegation{}, err
	}
	return row.toEntity()
}

func lockActor(tx *gorm.DB, actorID string, notFound error) error {
	var row actorModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("actor_id = ?", strings.TrimSpace(actorID)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound
	}
	return err
}

func refreshSummary(tx *gorm.DB, granteeID string, now time.Time) (entities.AuthoritySummary, error) {
	var rows []delegationModel
	if err := tx.Where("grantee_id = ?", granteeID).Find(&rows).Error; err != nil {
		return entities.AuthoritySummary{}, err
	}
	items, err := toDelegationEntities(rows)
	if err != nil {
		return entities.AuthoritySummary{}, err
	}
	summary := services.BuildSummary(granteeID, items, now)
	row, err := summaryModelFromEntity(summary)
	if err != nil {
		return entities.AuthoritySummary{}, err
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "actor_id"}},
		UpdateAll: true,
	}).Create(&row).Error; err != nil {
		return entities.AuthoritySummary{}, err
	}
	return summary, nil
}

// loadSummary serves the stored projection until one of its delegations
// expires, then rebuilds from delegation rows.
func loadSummary(db *gorm.DB, actorID string, now time.Time) (entities.AuthoritySummary, error) {
	var row summaryModel
	err := db.Where("actor_id = ?", actorID).First(&row).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return entities.AuthoritySummary{}, err
	}
	if err == nil {
		summary, err := row.toEntity()
		if err != nil {
			return entities.AuthoritySummary{}, err
		}
		if !summary.StaleBy(now) {
			return summary, nil
		}
	}
	var rows []delegationModel
	if err := db.Where("grantee_id = ?", actorID).Find(&rows).Error; err != nil {
		return entities.AuthoritySummary{}, err
	}
	items, err := toDelegationEntities(rows)
	if err != nil {
		return entities.AuthoritySummary{}, err
	}
	return services.BuildSummary(actorID, items, now), nil
}

func appendOutbox(
	tx *gorm.DB,
	outboxID string,
	eventType string,
	actorID string,
	delegation entities.Delegation,
	at time.Time,
) error {
	envelope, err := ports.NewDelegationEnvelope(outboxID, eventType, actorID, delegation, at)
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

// classify passes domain errors through and logs everything else.
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
		"module", "deal-governance/authority-service",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("authority repository operation failed", fields...)
	return err
}

type actorModel struct {
	ActorID     string `gorm:"column:actor_id;primaryKey"`
	Role        string `gorm:"column:role"`
	DisplayName string `gorm:"column:display_name"`
}

func (actorModel) TableName() string {
	return "actors"
}

func (m actorModel) toEntity() entities.Actor {
	return entities.Actor{
		ActorID:     m.ActorID,
		Role:        entities.Role(m.Role),
		DisplayName: m.DisplayName,
	}
}

type delegationModel struct {
	ID                   string              `gorm:"column:id;primaryKey"`
	GranteeID            string              `gorm:"column:grantee_id"`
	GrantorID            string              `gorm:"column:grantor_id"`
	ApprovalTypes        []byte              `gorm:"column:approval_types;type:jsonb"`
	MaxAmount            decimal.NullDecimal `gorm:"column:max_amount;type:numeric"`
	RequiresSeniorReview bool                `gorm:"column:requires_senior_review"`
	ValidUntil           *time.Time          `gorm:"column:valid_until"`
	Active               bool                `gorm:"column:active"`
	Notes                string              `gorm:"column:notes"`
	CreatedAt            time.Time           `gorm:"column:created_at"`
	UpdatedAt            time.Time           `gorm:"column:updated_at"`
	RevokedAt            *time.Time          `gorm:"column:revoked_at"`
	RevokedBy            *string             `gorm:"column:revoked_by"`
}

func (delegationModel) TableName() string {
	return "delegations"
}

func delegationModelFromEntity(delegation entities.Delegation) (delegationModel, error) {
	types, err := json.Marshal(delegation.ApprovalTypes)
	if err != nil {
		return delegationModel{}, err
	}
	row := delegationModel{
		ID:                   strings.TrimSpace(delegation.DelegationID),
		GranteeID:            strings.TrimSpace(delegation.GranteeID),
		GrantorID:            strings.TrimSpace(delegation.GrantorID),
		ApprovalTypes:        types,
		RequiresSeniorReview: delegation.RequiresSeniorReview,
		ValidUntil:           normalizeOptionalTime(delegation.ValidUntil),
		Active:               delegation.Active,
		Notes:                delegation.Notes,
		CreatedAt:            delegation.CreatedAt.UTC(),
		UpdatedAt:            delegation.UpdatedAt.UTC(),
		RevokedAt:            normalizeOptionalTime(delegation.RevokedAt),
	}
	if delegation.MaxAmount != nil {
		row.MaxAmount = decimal.NewNullDecimal(*delegation.MaxAmount)
	}
	if delegation.RevokedBy != "" {
		revokedBy := delegation.RevokedBy
		row.RevokedBy = &revokedBy
	}
	return row, nil
}

func (m delegationModel) toEntity() (entities.Delegation, error) {
	var types []entities.ApprovalActionType
	if len(m.ApprovalTypes) > 0 {
		if err := json.Unmarshal(m.ApprovalTypes, &types); err != nil {
			return entities.Delegation{}, err
		}
	}
	delegation := entities.Delegation{
		DelegationID:         m.ID,
		GranteeID:            m.GranteeID,
		GrantorID:            m.GrantorID,
		ApprovalTypes:        types,
		RequiresSeniorReview: m.RequiresSeniorReview,
		ValidUntil:           normalizeOptionalTime(m.ValidUntil),
		Active:               m.Active,
		Notes:                m.Notes,
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
		RevokedAt:            normalizeOptionalTime(m.RevokedAt),
	}
	if m.MaxAmount.Valid {
		amount := m.MaxAmount.Decimal
		delegation.MaxAmount = &amount
	}
	if m.RevokedBy != nil {
		delegation.RevokedBy = *m.RevokedBy
	}
	return delegation, nil
}

type summaryModel struct {
	ActorID              string              `gorm:"column:actor_id;primaryKey"`
	ApprovalTypes        []byte              `gorm:"column:approval_types;type:jsonb"`
	MaxAmount            decimal.NullDecimal `gorm:"column:max_amount;type:numeric"`
	Unbounded            bool                `gorm:"column:unbounded"`
	RequiresSeniorReview bool                `gorm:"column:requires_senior_review"`
	ActiveDelegations    int                 `gorm:"column:active_delegations"`
	RefreshedAt          time.Time           `gorm:"column:refreshed_at"`
	StaleAt              *time.Time          `gorm:"column:stale_at"`
}

func (summaryModel) TableName() string {
	return "authority_summaries"
}

func summaryModelFromEntity(summary entities.AuthoritySummary) (summaryModel, error) {
	types, err := json.Marshal(summary.ApprovalTypes)
	if err != nil {
		return summaryModel{}, err
	}
	row := summaryModel{
		ActorID:              summary.ActorID,
		ApprovalTypes:        types,
		Unbounded:            summary.Unbounded,
		RequiresSeniorReview: summary.RequiresSeniorReview,
		ActiveDelegations:    summary.ActiveDelegations,
		RefreshedAt:          summary.RefreshedAt.UTC(),
		StaleAt:              summary.StaleAt,
	}
	if summary.MaxAmount != nil {
		row.MaxAmount = decimal.NewNullDecimal(*summary.MaxAmount)
	}
	return row, nil
}

func (m summaryModel) toEntity() (entities.AuthoritySummary, error) {
	types := []entities.ApprovalActionType{}
	if len(m.ApprovalTypes) > 0 {
		if err := json.Unmarshal(m.ApprovalTypes, &types); err != nil {
			return entities.AuthoritySummary{}, err
		}
	}
	summary := entities.AuthoritySummary{
		ActorID:              m.ActorID,
		ApprovalTypes:        types,
		Unbounded:            m.Unbounded,
		RequiresSeniorReview: m.RequiresSeniorReview,
		ActiveDelegations:    m.ActiveDelegations,
		RefreshedAt:          m.RefreshedAt.UTC(),
	}
	if m.StaleAt != nil {
		staleAt := m.StaleAt.UTC()
		summary.StaleAt = &staleAt
	}
	if m.MaxAmount.Valid {
		amount := m.MaxAmount.Decimal
		summary.MaxAmount = &amount
	}
	return summary, nil
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
	return "authority_outbox"
}

type eventDedupModel struct {
	EventID     string    `gorm:"column:event_id;primaryKey"`
	PayloadHash string    `gorm:"column:payload_hash"`
	ExpiresAt   time.Time `gorm:"column:expires_at"`
	ProcessedAt time.Time `gorm:"column:processed_at"`
}

func (eventDedupModel) TableName() string {
	return "authority_event_dedup"
}

func toDelegationEntities(rows []delegationModel) ([]entities.Delegation, error) {
	items := make([]entities.Delegation, 0, len(rows))
	for _, row := range rows {
		item, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func normalizeOptionalTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	timestamp := value.UTC()
	return &timestamp
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
var _ ports.EventDedupStore = (*Repository)(nil)
