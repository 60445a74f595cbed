package mysql_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdl_sync/internal/domain"
	mysqlrepo "pdl_sync/internal/storage/mysql"
)

func newMock(t *testing.T) (*mysqlrepo.Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return mysqlrepo.New(db), mock
}

func TestRepo_FindAgencyByKey_NoRows(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM agencies").WithArgs("k1").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindAgencyByKey(context.Background(), "k1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_UpdateAgency_ByID(t *testing.T) {
	repo, mock := newMock(t)
	key := "k1"
	mock.ExpectExec("UPDATE agencies SET").
		WithArgs("Acme", nil, "", nil, nil, nil, nil, nil, nil, nil, nil, nil, "k1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateAgency(context.Background(), domain.Agency{ID: 7, Name: "Acme", UniqueKey: &key})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ReplaceProperties_CountsRowFailures(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM properties WHERE agency_id").WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 4))
	prep := mock.ExpectPrepare("INSERT INTO properties")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().WillReturnError(errors.New("data too long"))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(3, 1))
	mock.ExpectCommit()

	ps := []domain.Property{{AgencyName: "Acme"}, {AgencyName: "Acme"}, {AgencyName: "Acme"}}
	rowErrs, err := repo.ReplaceProperties(context.Background(), 7, ps)
	require.NoError(t, err)
	require.Len(t, rowErrs, 3)
	assert.NoError(t, rowErrs[0])
	assert.EqualError(t, rowErrs[1], "data too long")
	assert.NoError(t, rowErrs[2])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepo_ReplaceProperties_DeleteFailureRollsBack(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM properties WHERE agency_id").WithArgs(int64(7)).WillReturnError(errors.New("lock wait timeout"))
	mock.ExpectRollback()

	_, err := repo.ReplaceProperties(context.Background(), 7, []domain.Property{{AgencyName: "Acme"}})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
