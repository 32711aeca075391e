package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/revmark-backend/internal/repository/common"
)

var (
	lockRequestSQL   = sqlPattern("SELECT status FROM requests WHERE id = $1 AND buyer_id = $2 FOR UPDATE")
	countAttemptsSQL = sqlPattern("SELECT COUNT(*) AS total", "FROM escrow_payments WHERE request_id = $1")
)

func countRows(total, live int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"total", "live"}).AddRow(total, live)
}

func TestRequestRepository_Delete_WithoutAttempts(t *testing.T) {
	db, dbMock := newMockDB(t)
	repo := NewRequestRepository(db)
	id, buyerID := uuid.New(), uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(lockRequestSQL).WithArgs(id, buyerID).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	dbMock.ExpectQuery(countAttemptsSQL).WithArgs(id).WillReturnRows(countRows(0, 0))
	dbMock.ExpectExec(sqlPattern("DELETE FROM requests WHERE id = $1")).WithArgs(id).WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	hard, err := repo.Delete(context.Background(), id, buyerID)

	require.NoError(t, err)
	assert.True(t, hard)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestRequestRepository_Delete_CancelsAndClosesAttempts(t *testing.T) {
	db, dbMock := newMockDB(t)
	repo := NewRequestRepository(db)
	id, buyerID := uuid.New(), uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(lockRequestSQL).WithArgs(id, buyerID).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("open"))
	dbMock.ExpectQuery(countAttemptsSQL).WithArgs(id).WillReturnRows(countRows(2, 0))
	dbMock.ExpectExec(sqlPattern("UPDATE escrow_payments SET status = 'failed', failure_reason = 'request cancelled'", "WHERE request_id = $1 AND status = 'pending'")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectExec(sqlPattern("UPDATE requests SET status = 'cancelled'", "WHERE id = $1")).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	dbMock.ExpectCommit()

	hard, err := repo.Delete(context.Background(), id, buyerID)

	require.NoError(t, err)
	assert.False(t, hard)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}

func TestRequestRepository_Delete_Rejected(t *testing.T) {
	cases := []struct {
		name   string
		status string
		counts *sqlmock.Rows
		want   error
	}{
		{name: "оплата в шлюзе ещё возможна", status: "open", counts: countRows(1, 1), want: ErrPaymentInFlight},
		{name: "заявка оплачена", status: "funded", want: common.ErrStatusConflict},
		{name: "заявка завершена", status: "completed", want: common.ErrStatusConflict},
		{name: "заявка уже отменена", status: "cancelled", want: common.ErrStatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, dbMock := newMockDB(t)
			repo := NewRequestRepository(db)
			id, buyerID := uuid.New(), uuid.New()

			dbMock.ExpectBegin()
			dbMock.ExpectQuery(lockRequestSQL).WithArgs(id, buyerID).WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(tc.status))
			if tc.counts != nil {
				dbMock.ExpectQuery(countAttemptsSQL).WithArgs(id).WillReturnRows(tc.counts)
			}
			dbMock.ExpectRollback()

			hard, err := repo.Delete(context.Background(), id, buyerID)

			assert.ErrorIs(t, err, tc.want)
			assert.False(t, hard)
			// ни удаления, ни UPDATE не было
			assert.NoError(t, dbMock.ExpectationsWereMet())
		})
	}
}

func TestRequestRepository_Delete_ForeignRequest(t *testing.T) {
	db, dbMock := newMockDB(t)
	repo := NewRequestRepository(db)
	id, buyerID := uuid.New(), uuid.New()

	dbMock.ExpectBegin()
	dbMock.ExpectQuery(lockRequestSQL).WithArgs(id, buyerID).WillReturnRows(sqlmock.NewRows([]string{"status"}))
	dbMock.ExpectRollback()

	_, err := repo.Delete(context.Background(), id, buyerID)

	assert.ErrorIs(t, err, ErrRequestNotFound)
	assert.NoError(t, dbMock.ExpectationsWereMet())
}
