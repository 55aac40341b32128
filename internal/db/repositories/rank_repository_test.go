package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

var rankCols = []string{"user_id", "workspace_group_id", "rank_id", "updated_at"}

func newRankRepo(t *testing.T) (*RankRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewRankRepository(db), mock
}

func TestGetWorkspaceRanks_NoUsers(t *testing.T) {
	repo, _ := newRankRepo(t)
	ranks, err := repo.GetWorkspaceRanks(context.Background(), 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranks) != 0 {
		t.Errorf("ranks = %v, want empty", ranks)
	}
}

func TestGetWorkspaceRanks_Success(t *testing.T) {
	repo, mock := newRankRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT user_id.*FROM ranks").
		WillReturnRows(sqlmock.NewRows(rankCols).
			AddRow(int64(1), int64(100), int64(60), now).
			AddRow(int64(2), int64(100), int64(255), now))

	ranks, err := repo.GetWorkspaceRanks(context.Background(), 100, []int64{1, 2, 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ranks[1] != 60 || ranks[2] != 255 {
		t.Errorf("ranks = %v", ranks)
	}
	if _, ok := ranks[3]; ok {
		t.Error("user 3 has no cached rank but is present in the map")
	}
}

func TestGetWorkspaceRanks_Error(t *testing.T) {
	repo, mock := newRankRepo(t)
	mock.ExpectQuery("SELECT user_id").WillReturnError(errDB)
	if _, err := repo.GetWorkspaceRanks(context.Background(), 100, []int64{1}); err == nil {
		t.Error("expected error, got nil")
	}
}

func TestUpsertRank_Success(t *testing.T) {
	repo, mock := newRankRepo(t)
	mock.ExpectExec("INSERT INTO ranks.*ON CONFLICT \\(user_id, workspace_group_id\\) DO UPDATE").
		WithArgs(int64(1), int64(100), int64(60)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpsertRank(context.Background(), 1, 100, 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpsertRank_Error(t *testing.T) {
	repo, mock := newRankRepo(t)
	mock.ExpectExec("INSERT INTO ranks").WillReturnError(errDB)
	if err := repo.UpsertRank(context.Background(), 1, 100, 60); err == nil {
		t.Error("expected error, got nil")
	}
}
