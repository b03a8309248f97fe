package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextSequence(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO event_sequence`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(1)))
	mock.ExpectQuery(`INSERT INTO event_sequence`).
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"last_sequence"}).AddRow(int64(2)))

	repo := NewRepository(mock)
	first, err := repo.NextSequence(context.Background(), "order-1")
	require.NoError(t, err)
	second, err := repo.NextSequence(context.Background(), "order-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextSequenceError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`INSERT INTO event_sequence`).
		WithArgs("order-1").
		WillReturnError(errors.New("deadlock detected"))

	_, err = NewRepository(mock).NextSequence(context.Background(), "order-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next sequence")
}
