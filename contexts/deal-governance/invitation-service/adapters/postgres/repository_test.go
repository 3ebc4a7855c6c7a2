package postgresadapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"escrowline/contexts/deal-governance/invitation-service/domain/entities"
	domainerrors "escrowline/contexts/deal-governance/invitation-service/domain/errors"
	"escrowline/contexts/deal-governance/invitation-service/ports"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return NewRepository(db, nil), mock
}

var (
	dealColumns  = []string{"deal_id", "status", "activated_at", "created_at"}
	partyColumns = []string{
		"party_id", "deal_id", "role", "email", "invitation_status", "invitation_token",
		"responded_at", "decline_reason", "position",
	}
	createdAt = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
)

func acceptInput() ports.AcceptInput {
	return ports.AcceptInput{
		Token:        "tok-1",
		MembershipID: "m-1",
		OutboxIDs:    [2]string{"o-1", "o-2"},
		AcceptedAt:   time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC),
	}
}

func expectLockedInvitation(mock sqlmock.Sqlmock, dealStatus string, partyStatus string) {
	mock.ExpectQuery(`SELECT "deal_id" FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows([]string{"deal_id"}).AddRow("deal-1"))
	mock.ExpectQuery(`SELECT \* FROM "deals" .*FOR UPDATE`).
		WillReturnRows(sqlmock.NewRows(dealColumns).AddRow("deal-1", dealStatus, nil, createdAt))
	mock.ExpectQuery(`SELECT \* FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows(partyColumns).AddRow(
			"party-1", "deal-1", "buyer", "", partyStatus, "tok-1", nil, "", 0,
		))
}

func TestAcceptUnknownTokenRollsBack(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT "deal_id" FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows([]string{"deal_id"}))
	mock.ExpectRollback()

	_, err := repo.AcceptInvitation(context.Background(), acceptInput())
	assert.True(t, errors.Is(err, domainerrors.ErrInvalidToken), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptLastPartyActivatesDeal(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	expectLockedInvitation(mock, "PENDING", "PENDING")
	mock.ExpectExec(`UPDATE "deal_parties" SET .* WHERE deal_id = \$\d+ AND party_id = \$\d+ AND invitation_status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "deal_memberships" .*ON CONFLICT .*DO NOTHING`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "invitation_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "deals" SET .* WHERE deal_id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "invitation_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.AcceptInvitation(context.Background(), acceptInput())
	require.NoError(t, err)
	assert.True(t, outcome.DealActivated)
	assert.Equal(t, entities.DealActive, outcome.Deal.Status)
	assert.Equal(t, entities.InvitationAccepted, outcome.Party.InvitationStatus)
	require.NotNil(t, outcome.Membership)
	assert.Equal(t, "m-1", outcome.Membership.MembershipID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptLosingActivationSwapDoesNotActivate(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	expectLockedInvitation(mock, "PENDING", "PENDING")
	mock.ExpectExec(`UPDATE "deal_parties"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "deal_memberships"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "invitation_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT count\(\*\) FROM "deal_parties"`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`UPDATE "deals"`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	outcome, err := repo.AcceptInvitation(context.Background(), acceptInput())
	require.NoError(t, err)
	assert.False(t, outcome.DealActivated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptAlreadyAcceptedWritesNothing(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	expectLockedInvitation(mock, "ACTIVE", "ACCEPTED")
	mock.ExpectCommit()

	outcome, err := repo.AcceptInvitation(context.Background(), acceptInput())
	require.NoError(t, err)
	assert.True(t, outcome.AlreadyAccepted)
	assert.Nil(t, outcome.Membership)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcceptDeclinedInvitationConflicts(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	expectLockedInvitation(mock, "PENDING", "DECLINED")
	mock.ExpectRollback()

	_, err := repo.AcceptInvitation(context.Background(), acceptInput())
	assert.True(t, errors.Is(err, domainerrors.ErrInvitationDeclined), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeclineWritesPartyAndEvent(t *testing.T) {
	repo, mock := newMockRepository(t)
	mock.ExpectBegin()
	expectLockedInvitation(mock, "PENDING", "PENDING")
	mock.ExpectExec(`UPDATE "deal_parties"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO "invitation_outbox"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	outcome, err := repo.DeclineInvitation(context.Background(), ports.DeclineInput{
		Token:      "tok-1",
		Reason:     "no",
		OutboxID:   "o-1",
		DeclinedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, entities.InvitationDeclined, outcome.Party.InvitationStatus)
	assert.Equal(t, "no", outcome.Party.DeclineReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}
