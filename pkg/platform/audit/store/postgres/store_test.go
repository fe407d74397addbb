package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/suite"

	id "wms/pkg/domain"
	audit "wms/pkg/platform/audit"
	"wms/pkg/platform/sentinel"
	txcontext "wms/pkg/platform/tx"
	"wms/pkg/requestcontext"
)

var _ audit.Store = (*Store)(nil)

var entryColumns = []string{
	"id", "entity_name", "entity_id", "action", "tenant_id", "actor",
	"occurred_at", "before_state", "after_state", "content",
}

type StoreSuite struct {
	suite.Suite
	raw   *sql.DB
	mock  sqlmock.Sqlmock
	store *Store
	at    time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	raw, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.raw = raw
	s.mock = mock
	s.store = New(sqlx.NewDb(raw, "sqlmock"), WithDeleteBatchSize(2))
	s.at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.raw.Close()
}

func (s *StoreSuite) TestSaveSetsTenantAndInsertsInTransaction() {
	ctx := requestcontext.WithTenantID(context.Background(), "ACME")
	entry := &audit.Entry{
		EntityName: "Produto",
		EntityID:   "42",
		Action:     audit.ActionCreate,
		TenantID:   "ACME",
		Actor:      "alice",
		OccurredAt: s.at,
		After:      json.RawMessage(`{"id":42}`),
		Content:    json.RawMessage(`{"kind":"snapshot","state":{"id":42}}`),
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('app.tenant_id', $1, true)")).
		WithArgs("ACME").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log_entries")).
		WithArgs(sqlmock.AnyArg(), "Produto", "42", "CREATE", "ACME", "alice", sqlmock.AnyArg(),
			nil, `{"id":42}`, `{"kind":"snapshot","state":{"id":42}}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	entryID, err := s.store.Save(ctx, entry)

	s.Require().NoError(err)
	s.NotEqual(uuid.Nil, entryID)
	s.Equal(entryID, entry.ID)
}

func (s *StoreSuite) TestSaveWithoutTenantStoresNull() {
	entry := &audit.Entry{
		EntityName: "Parceiro",
		EntityID:   "7",
		Action:     audit.ActionDelete,
		Actor:      audit.ActorSystem,
		OccurredAt: s.at,
		Before:     json.RawMessage(`{"id":7}`),
	}

	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("SELECT set_config")).
		WithArgs("").
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log_entries")).
		WithArgs(sqlmock.AnyArg(), "Parceiro", "7", "DELETE", nil, "SYSTEM", sqlmock.AnyArg(),
			`{"id":7}`, nil, `{"kind":"snapshot","state":{"id":7}}`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	_, err := s.store.Save(context.Background(), entry)
	s.Require().NoError(err)
	s.JSONEq(`{"kind":"snapshot","state":{"id":7}}`, string(entry.Content))
}

func (s *StoreSuite) TestSaveRollsBackOnInsertFailure() {
	s.mock.ExpectBegin()
	s.mock.ExpectExec(regexp.QuoteMeta("SELECT set_config")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log_entries")).WillReturnError(errors.New("disk full"))
	s.mock.ExpectRollback()

	_, err := s.store.Save(context.Background(), s.entry())

	s.Require().Error(err)
	s.Contains(err.Error(), "disk full")
}

func (s *StoreSuite) TestSaveJoinsTransactionFromContext() {
	s.mock.ExpectBegin()
	tx, err := s.raw.Begin()
	s.Require().NoError(err)

	s.mock.ExpectExec(regexp.QuoteMeta("SELECT set_config")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log_entries")).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	_, err = s.store.Save(txcontext.WithTx(context.Background(), tx), s.entry())
	s.Require().NoError(err)
	s.Require().NoError(tx.Commit())
}

func (s *StoreSuite) TestSaveMarksConnectionLossUnavailable() {
	s.mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	_, err := s.store.Save(context.Background(), s.entry())

	s.ErrorIs(err, sentinel.ErrUnavailable)
}

func (s *StoreSuite) TestFindByEntityNewestFirst() {
	newer, older := uuid.New(), uuid.New()
	rows := sqlmock.NewRows(entryColumns).
		AddRow(newer.String(), "Produto", "42", "UPDATE", "ACME", "alice", s.at.Add(time.Hour),
			nil, []byte(`{"id":42,"nome":"B"}`), []byte(`{"kind":"snapshot","state":{"id":42,"nome":"B"}}`)).
		AddRow(older.String(), "Produto", "42", "CREATE", nil, "SYSTEM", s.at,
			nil, []byte(`{"id":42,"nome":"A"}`), []byte(`{"kind":"snapshot","state":{"id":42,"nome":"A"}}`))
	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE entity_name = $1 AND entity_id = $2")).
		WithArgs("Produto", "42").
		WillReturnRows(rows)

	entries, err := s.store.FindByEntity(context.Background(), "Produto", "42")

	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(newer, entries[0].ID)
	s.Equal(audit.ActionUpdate, entries[0].Action)
	s.Equal(id.TenantID("ACME"), entries[0].TenantID)
	s.Nil(entries[0].Before)
	s.JSONEq(`{"id":42,"nome":"B"}`, string(entries[0].After))
	s.Equal(older, entries[1].ID)
	s.True(entries[1].TenantID.IsZero())
}

func (s *StoreSuite) TestFindByEntities() {
	s.mock.ExpectQuery(regexp.QuoteMeta("entity_id = ANY($2)")).
		WithArgs("Produto", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(entryColumns).
			AddRow(uuid.NewString(), "Produto", "43", "CREATE", "ACME", "alice", s.at, nil, []byte(`{}`), []byte(`{}`)))

	entries, err := s.store.FindByEntities(context.Background(), "Produto", []string{"42", "43"})
	s.Require().NoError(err)
	s.Len(entries, 1)

	entries, err = s.store.FindByEntities(context.Background(), "Produto", nil)
	s.NoError(err)
	s.Empty(entries)
}

func (s *StoreSuite) TestFindByTenantExcludesNullTenant() {
	s.mock.ExpectQuery(regexp.QuoteMeta("WHERE tenant_id IS NOT NULL AND tenant_id = $1")).
		WithArgs("ACME", 100).
		WillReturnRows(sqlmock.NewRows(entryColumns))

	entries, err := s.store.FindByTenant(context.Background(), "ACME", 0)
	s.Require().NoError(err)
	s.Empty(entries)

	entries, err = s.store.FindByTenant(context.Background(), "", 10)
	s.NoError(err)
	s.Nil(entries)
}

func (s *StoreSuite) TestFindByEntityQueryFailure() {
	s.mock.ExpectQuery("SELECT").WillReturnError(errors.New("syntax error"))

	_, err := s.store.FindByEntity(context.Background(), "Produto", "42")
	s.ErrorContains(err, "query audit entries")
}

func (s *StoreSuite) TestDeleteOlderThanInBatches() {
	cutoff := s.at.AddDate(0, 0, -90)
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries")).
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries")).
		WithArgs(cutoff, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.store.DeleteOlderThan(context.Background(), cutoff)

	s.Require().NoError(err)
	s.Equal(int64(3), n)
}

func (s *StoreSuite) TestDeleteOlderThanNothingToDelete() {
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.store.DeleteOlderThan(context.Background(), s.at)

	s.Require().NoError(err)
	s.Zero(n)
}

func (s *StoreSuite) TestDeleteOlderThanSingleStatement() {
	store := New(sqlx.NewDb(s.raw, "sqlmock"), WithDeleteBatchSize(0))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries WHERE occurred_at < $1")).
		WithArgs(s.at).
		WillReturnResult(sqlmock.NewResult(0, 12))

	n, err := store.DeleteOlderThan(context.Background(), s.at)

	s.Require().NoError(err)
	s.Equal(int64(12), n)
}

func (s *StoreSuite) TestDeleteOlderThanReportsPartialProgress() {
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	s.mock.ExpectExec(regexp.QuoteMeta("DELETE FROM audit_log_entries")).
		WillReturnError(errors.New("lock timeout"))

	n, err := s.store.DeleteOlderThan(context.Background(), s.at)

	s.Error(err)
	s.Equal(int64(2), n)
}

func (s *StoreSuite) entry() *audit.Entry {
	return &audit.Entry{
		EntityName: "Produto",
		EntityID:   "42",
		Action:     audit.ActionCreate,
		Actor:      "alice",
		OccurredAt: s.at,
		After:      json.RawMessage(`{"id":42}`),
	}
}
