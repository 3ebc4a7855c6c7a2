package postgresadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowline/contexts/deal-governance/amendment-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/amendment-service/domain/errors"
	"escrowline/contexts/deal-governance/amendment-service/ports"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

var amendmentColumns = []string{
	"amendment_id", "deal_id", "proposer_id", "status", "proposed_changes", "responses",
	"admin_resolution", "supersedes_id", "created_at", "updated_at", "applied_at",
}

var partyColumns = []string{"party_id", "deal_id", "invitation_status", "position"}

const termsChanges = `{"amendment_type":"terms","description":"extend","changeset":{"kind":"update_terms","data":{"terms":{"inspection_days":"14"}}}}`

func amendmentRow(status string, responses string) *sqlmock.Rows {
	created := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows(amendmentColumns).AddRow(
		"am-1", "deal-1", "p0", status, []byte(termsChanges), []byte(responses),
		nil, nil, created, created, nil,
	)
}

func twoParties() *sqlmock.Rows {
	return sqlmock.NewRows(partyColumns).
		AddRow("p0", "deal-1", "ACCEPTED", 0).
		AddRow("p1", "deal-1", "ACCEPTED", 1)
}

func respondInput(partyID string) ports.RespondInput {
	return ports.RespondInput{
		AmendmentID: "am-1",
		Response: entities.PartyResponse{
			PartyID:     partyID,
			Decision:    entities.DecisionApprove,
			RespondedAt: time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
		},
		OutboxIDs: [2]string{"o-1", "o-2"},
	}
}

func TestGetAmendmentDecodesChangeset(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectQuery(`SELECT \* FROM "amendments"`).
		WillReturnRows(amendmentRow("PENDING", `[{"party_id":"p0","decision":"APPROVE","responded_at":"2026-04-01T11:00:00Z"}]`))

	amendment, err := repo.GetAmendment(context.Background(), "am-1")
	require.NoError(t, err)
	assert.Equal(t, entities.AmendmentStatusPending, amendment.Status)
	assert.Equal(t, entities.ChangeUpdateTerms, amendment.ProposedChanges.Changeset.Kind())
	terms, ok := amendment.ProposedChanges.Changeset.Change.(entities.UpdateTerms)
	require.True(t, ok)
	assert.Equal(t, "14", terms.Terms["inspection_days"])
	require.Len(t, amendment.Responses, 1)
	assert.Equal(t, entities.DecisionApprove, amendment.Responses[0].Decision)
	assert.Nil(t, amendment.AdminResolution)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondMissingAmendmentRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(amendmentColumns))
	mock.ExpectRollback()

	_, err := repo.RespondToAmendment(context.Background(), respondInput("p0"))
	assert.True(t, errors.Is(err, domainerrors.ErrAmendmentNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondFinalApprovalWritesAppliedEvents(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("PENDING", `[{"party_id":"p0","decision":"APPROVE","responded_at":"2026-04-01T11:00:00Z"}]`))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(twoParties())
	mock.ExpectExec(`UPDATE "amendments" SET .* WHERE amendment_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "amendment_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "amendment_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.RespondToAmendment(context.Background(), respondInput("p1"))
	require.NoError(t, err)
	assert.True(t, outcome.Transition.AppliedNow())
	assert.Equal(t, entities.AmendmentStatusApplied, outcome.Amendment.Status)
	assert.Len(t, outcome.Amendment.Responses, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondReplayWritesNothing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("PENDING", `[{"party_id":"p0","decision":"APPROVE","responded_at":"2026-04-01T11:00:00Z"}]`))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(twoParties())
	mock.ExpectCommit()

	outcome, err := repo.RespondToAmendment(context.Background(), respondInput("p0"))
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyResponded)
	assert.False(t, outcome.Transition.Changed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondLostStatusRaceIsRetryable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("PENDING", `[]`))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(twoParties())
	mock.ExpectExec(`UPDATE "amendments"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.RespondToAmendment(context.Background(), respondInput("p0"))
	assert.True(t, errors.Is(err, domainerrors.ErrConcurrentWriteRetry), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRespondSerializationFailureIsRetryable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	_, err := repo.RespondToAmendment(context.Background(), respondInput("p0"))
	assert.True(t, errors.Is(err, domainerrors.ErrConcurrentWriteRetry), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveOnTerminalAmendmentIsImmutable(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("REJECTED", `[]`))
	mock.ExpectRollback()

	_, err := repo.ResolveAmendment(context.Background(), ports.ResolveInput{
		AmendmentID: "am-1",
		Resolution:  entities.AdminResolution{Type: entities.ResolutionApproveOverride, ResolvedBy: "admin-1", ResolvedAt: time.Now().UTC()},
		OutboxIDs:   [2]string{"o-1", "o-2"},
	})
	assert.True(t, errors.Is(err, domainerrors.ErrAmendmentFinalized), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAmendmentRejectsPendingSupersede(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "deals"`).
		WillReturnRows(sqlmock.NewRows([]string{"deal_id", "status", "activated_at"}).AddRow("deal-1", "ACTIVE", nil))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(twoParties())
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("PENDING", `[]`))
	mock.ExpectRollback()

	now := time.Now().UTC()
	_, err := repo.CreateAmendment(context.Background(), ports.CreateAmendmentInput{
		Amendment: entities.Amendment{
			AmendmentID:  "am-2",
			DealID:       "deal-1",
			ProposerID:   "p1",
			Status:       entities.AmendmentStatusPending,
			SupersedesID: "am-1",
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		OutboxID: "o-1",
	})
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidSupersede), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeApplierReplayIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	applier := NewChangeApplier(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "amendment_applications" .*ON CONFLICT .*DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := applier.Apply(context.Background(), ports.ChangeRequest{
		AmendmentID: "am-1",
		DealID:      "deal-1",
		Changeset:   entities.NewChangeset(entities.AddParty{PartyID: "p9", Role: "inspector"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChangeApplierAddsParty(t *testing.T) {
	db, mock := newMockDB(t)
	applier := NewChangeApplier(db, nil)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "amendment_applications"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectExec(`INSERT INTO "deal_parties"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := applier.Apply(context.Background(), ports.ChangeRequest{
		AmendmentID: "am-1",
		DealID:      "deal-1",
		Changeset:   entities.NewChangeset(entities.AddParty{PartyID: "p9", Role: "inspector"}),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilePartiesSettlesApprovedAmendment(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	approvals := `[{"party_id":"p0","decision":"APPROVE","responded_at":"2026-04-01T11:00:00Z"},` +
		`{"party_id":"p1","decision":"APPROVE","responded_at":"2026-04-01T11:05:00Z"}]`
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "deals" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"deal_id", "status", "activated_at"}).AddRow("deal-1", "PENDING", nil))
	mock.ExpectExec(`UPDATE "deal_parties" SET "invitation_status"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT \* FROM "amendments" .*FOR UPDATE`).
		WillReturnRows(amendmentRow("PENDING", approvals))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows(partyColumns).
			AddRow("p0", "deal-1", "ACCEPTED", 0).
			AddRow("p1", "deal-1", "ACCEPTED", 1).
			AddRow("p2", "deal-1", "DECLINED", 2))
	mock.ExpectExec(`UPDATE "amendments" SET .* WHERE amendment_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "amendment_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcomes, err := repo.ReconcileParties(context.Background(), ports.ReconcilePartiesInput{
		DealID:  "deal-1",
		Change:  &entities.PartyChange{PartyID: "p2", Status: entities.InvitationDeclined},
		ActorID: "p2",
		At:      time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Transition.AppliedNow())
	assert.Equal(t, entities.AmendmentStatusApplied, outcomes[0].Amendment.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilePartiesUnknownDealRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRepository(db, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "deals" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows([]string{"deal_id", "status", "activated_at"}))
	mock.ExpectRollback()

	_, err := repo.ReconcileParties(context.Background(), ports.ReconcilePartiesInput{DealID: "deal-404"})
	assert.True(t, errors.Is(err, domainerrors.ErrDealNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
