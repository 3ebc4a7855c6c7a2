package postgresadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	"escrowline/contexts/deal-governance/amendment-service/ports"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeApplier records each applied amendment once in amendment_applications
// and applies roster changes to deal_parties in the same transaction. A replay
// for an amendment that already has a row is a no-op.
type ChangeApplier struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewChangeApplier(db *gorm.DB, logger *slog.Logger) *ChangeApplier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeApplier{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (a *ChangeApplier) Apply(ctx context.Context, request ports.ChangeRequest) error {
	changeset, err := json.Marshal(request.Changeset)
	if err != nil {
		return err
	}
	appliedAt := a.now()
	err = a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		insert := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "amendment_id"}},
			DoNothing: true,
		}).Create(&applicationModel{
			AmendmentID: request.AmendmentID,
			DealID:      request.DealID,
			ChangeKind:  string(request.Changeset.Kind()),
			Changeset:   changeset,
			AppliedAt:   appliedAt,
		})
		if insert.Error != nil {
			return insert.Error
		}
		if insert.RowsAffected == 0 {
			a.logger.Info("amendment already applied",
				"event", "amendment_change_apply_replayed",
				"module", "deal-governance/amendment-service",
				"layer", "adapter",
				"amendment_id", request.AmendmentID,
				"deal_id", request.DealID,
			)
			return nil
		}
		return applyRoster(tx, request, appliedAt)
	})
	if err != nil {
		a.logger.Error("amendment change apply failed",
			"event", "amendment_change_apply_failed",
			"module", "deal-governance/amendment-service",
			"layer", "adapter",
			"amendment_id", request.AmendmentID,
			"deal_id", request.DealID,
			"error", err.Error(),
		)
		return err
	}
	return nil
}

// applyRoster handles the changes that touch deal_parties. Term, milestone,
// schedule and free-form changes are only recorded.
func applyRoster(tx *gorm.DB, request ports.ChangeRequest, at time.Time) error {
	switch change := request.Changeset.Change.(type) {
	case entities.AddParty:
		var position int64
		if err := tx.Model(&partyModel{}).
			Where("deal_id = ?", request.DealID).
			Count(&position).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&invitedPartyModel{
			PartyID:          change.PartyID,
			DealID:           request.DealID,
			Role:             change.Role,
			Email:            change.Email,
			InvitationStatus: string(entities.InvitationPending),
			InvitationToken:  uuid.NewString(),
			Position:         int(position),
			InvitedAt:        at,
		}).Error
	case entities.RemoveParty:
		return tx.
			Where("deal_id = ? AND party_id = ?", request.DealID, change.PartyID).
			Delete(&partyModel{}).Error
	default:
		return nil
	}
}

type applicationModel struct {
	AmendmentID string    `gorm:"column:amendment_id;primaryKey"`
	DealID      string    `gorm:"column:deal_id"`
	ChangeKind  string    `gorm:"column:change_kind"`
	Changeset   []byte    `gorm:"column:changeset;type:jsonb"`
	AppliedAt   time.Time `gorm:"column:applied_at"`
}

func (applicationModel) TableName() string {
	return "amendment_applications"
}

type invitedPartyModel struct {
	PartyID          string    `gorm:"column:party_id;primaryKey"`
	DealID           string    `gorm:"column:deal_id;primaryKey"`
	Role             string    `gorm:"column:role"`
	Email            string    `gorm:"column:email"`
	InvitationStatus string    `gorm:"column:invitation_status"`
	InvitationToken  string    `gorm:"column:invitation_token"`
	Position         int       `gorm:"column:position"`
	InvitedAt        time.Time `gorm:"column:invited_at"`
}

func (invitedPartyModel) TableName() string {
	return "deal_parties"
}

var _ ports.ChangeApplier = (*ChangeApplier)(nil)
