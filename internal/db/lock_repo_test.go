package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"inzikt/internal/types"
)

func TestJobLockRepository_Acquire(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"fresh lock", "INSERT 0 1", true},
		{"expired lock reclaimed", "INSERT 0 1", true},
		{"held by another worker", "INSERT 0 0", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(mockDBTX)
			repo := NewJobLockRepository(db)

			db.On("Exec", mock.Anything, sqlContaining("WHERE job_locks.expires_at < $3"), mock.MatchedBy(func(args []any) bool {
				locked := args[2].(time.Time)
				expires := args[3].(time.Time)
				return args[0] == "scheduler_tick" && args[1] == "w-1" && expires.Sub(locked) == 15*time.Minute
			})).Return(pgconn.NewCommandTag(tt.tag), nil)

			ok, err := repo.Acquire(context.Background(), "scheduler_tick", "w-1", 15*time.Minute)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestJobLockRepository_Acquire_Error(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, mock.Anything, mock.Anything).Return(pgconn.CommandTag{}, errors.New("down"))

	ok, err := repo.Acquire(context.Background(), "scheduler_tick", "w-1", time.Minute)
	assert.False(t, ok)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}

func TestJobLockRepository_Release(t *testing.T) {
	db := new(mockDBTX)
	repo := NewJobLockRepository(db)

	db.On("Exec", mock.Anything, sqlContaining("DELETE FROM job_locks"), []any{"scheduler_tick", "w-1"}).
		Return(pgconn.NewCommandTag("DELETE 1"), nil)

	require.NoError(t, repo.Release(context.Background(), "scheduler_tick", "w-1"))
	db.AssertExpectations(t)
}
