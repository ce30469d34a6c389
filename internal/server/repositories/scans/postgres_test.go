package scans

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/scanrebate/internal/common"
	"github.com/dmitrijs2005/scanrebate/internal/server/models"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5/pgconn"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var created = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sample() *models.ScanRecord {
	return &models.ScanRecord{
		SessionID:     "scan-1740830400000-0011223344556677",
		ContentHash:   "h1",
		SourceAddress: "10.0.0.1",
		DetectedLabel: "acme-cola",
		Confidence:    0.93,
		BoundingBox:   models.BoundingBox{X: 1, Y: 2, Width: 30, Height: 40},
		Status:        models.ScanAwaitingReceipt,
		CreatedAt:     created,
	}
}

const insertQ = `(?s)^INSERT\s+INTO\s+scans\s*\(session_id,.*created_at\)\s*VALUES\s*\(\$1,.*\$11\)\s*$`

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	s := sample()
	mock.ExpectExec(insertQ).
		WithArgs(s.SessionID, "h1", "10.0.0.1", "acme-cola", 0.93, 1, 2, 30, 40, "awaiting_receipt", created).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), s); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreate_DuplicateHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "scans_content_hash_active"})

	err := repo.Create(context.Background(), sample())
	if !errors.Is(err, common.ErrDuplicateImage) {
		t.Fatalf("want ErrDuplicateImage, got %v", err)
	}
}

func TestCreate_DuplicateSession(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "scans_pkey"})

	err := repo.Create(context.Background(), sample())
	if !errors.Is(err, common.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(insertQ).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), sample())
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

const selectQ = `(?s)^SELECT\s+session_id,.*FROM\s+scans\s+WHERE\s+session_id\s*=\s*\$1\s*$`

var cols = []string{"session_id", "content_hash", "source_address", "detected_label", "confidence",
	"bbox_x", "bbox_y", "bbox_width", "bbox_height", "status", "created_at"}

func TestGetBySessionID_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	want := sample()
	mock.ExpectQuery(selectQ).
		WithArgs(want.SessionID).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(want.SessionID, "h1", "10.0.0.1", "acme-cola", 0.93,
			1, 2, 30, 40, "awaiting_receipt", created))

	got, err := repo.GetBySessionID(context.Background(), want.SessionID)
	if err != nil {
		t.Fatalf("GetBySessionID error: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestGetBySessionID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetBySessionID(context.Background(), "nope")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGetBySessionID_BadStatus(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectQ).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("s", "h1", "a", "l", 0.5, 0, 0, 0, 0, "weird", created))

	if _, err := repo.GetBySessionID(context.Background(), "s"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestExistsByContentHash(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+EXISTS\s*\(SELECT\s+1\s+FROM\s+scans\s+WHERE\s+content_hash\s*=\s*\$1\s+AND\s+status\s*<>\s*'rejected'\)$`
	mock.ExpectQuery(q).WithArgs("h1").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.ExistsByContentHash(context.Background(), "h1")
	if err != nil || !ok {
		t.Fatalf("want true, got %v %v", ok, err)
	}
}

const updateQ = `(?s)^UPDATE\s+scans\s+SET\s+status\s*=\s*\$3\s+WHERE\s+session_id\s*=\s*\$1\s+AND\s+status\s*=\s*\$2\s*$`

func TestUpdateStatus_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(updateQ).
		WithArgs("s", "awaiting_receipt", "completed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateStatus(context.Background(), "s", models.ScanAwaitingReceipt, models.ScanCompleted); err != nil {
		t.Fatalf("UpdateStatus error: %v", err)
	}
}

func TestUpdateStatus_Conflict(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(updateQ).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "s", models.ScanAwaitingReceipt, models.ScanCompleted)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict, got %v", err)
	}
}
