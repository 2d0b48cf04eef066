package rolestore

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestNativeRolesProvider_RetrieveRoles(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "descriptor"}).
		AddRow("stored_role", []byte(`{"cluster":["monitor"],"indices":[{"names":["logs-*"],"privileges":["read"]}]}`))
	mock.ExpectQuery(`SELECT name, descriptor`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	p := NewNativeRolesProvider(db, nil)

	done := make(chan RoleRetrievalResult, 1)
	p.RetrieveRoles(context.Background(), []string{"stored_role"}, func(r RoleRetrievalResult) {
		done <- r
	})

	result := <-done
	require.NoError(t, result.Err)
	require.Len(t, result.Descriptors, 1)
	require.Equal(t, "stored_role", result.Descriptors[0].Name)
	require.Equal(t, []string{"monitor"}, result.Descriptors[0].Cluster)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNativeRolesProvider_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT name, descriptor`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(context.DeadlineExceeded)

	p := NewNativeRolesProvider(db, nil)

	done := make(chan RoleRetrievalResult, 1)
	p.RetrieveRoles(context.Background(), []string{"stored_role"}, func(r RoleRetrievalResult) {
		done <- r
	})

	result := <-done
	require.Error(t, result.Err)
	require.Empty(t, result.Descriptors)
}

func TestNativeRolesProvider_MalformedStoredDescriptor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"name", "descriptor"}).
		AddRow("broken", []byte(`not json`))
	mock.ExpectQuery(`SELECT name, descriptor`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	p := NewNativeRolesProvider(db, nil)

	done := make(chan RoleRetrievalResult, 1)
	p.RetrieveRoles(context.Background(), []string{"broken"}, func(r RoleRetrievalResult) {
		done <- r
	})

	result := <-done
	require.Error(t, result.Err)
}

func TestNativeRolesProvider_RoleCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	p := NewNativeRolesProvider(db, nil)
	count, err := p.RoleCount(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, count)
}
