//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	audit "wms/pkg/platform/audit"
	"wms/pkg/requestcontext"
	"wms/pkg/testutil/containers"
)

type StoreIntegrationSuite struct {
	suite.Suite
	pg    *containers.PostgresContainer
	store *Store
	now   time.Time
}

func TestStoreIntegrationSuite(t *testing.T) {
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = New(s.pg.DB, WithDeleteBatchSize(2))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *StoreIntegrationSuite) SetupTest() {
	s.Require().NoError(s.pg.Truncate(context.Background(), "audit_log_entries"))
}

func (s *StoreIntegrationSuite) save(ctx context.Context, e audit.Event) {
	entry, err := audit.NewEntry(e)
	s.Require().NoError(err)
	_, err = s.store.Save(ctx, entry)
	s.Require().NoError(err)
}

func (s *StoreIntegrationSuite) TestRoundTripNewestFirst() {
	ctx := requestcontext.WithTenantID(context.Background(), "ACME")
	s.save(ctx, audit.Event{
		EntityName: "Produto", EntityID: "42", Action: audit.ActionCreate,
		TenantID: "ACME", Actor: "alice", OccurredAt: s.now.Add(-time.Hour),
		After: json.RawMessage(`{"id":42,"nome":"A"}`),
	})
	s.save(ctx, audit.Event{
		EntityName: "Produto", EntityID: "42", Action: audit.ActionUpdate,
		TenantID: "ACME", Actor: "alice", OccurredAt: s.now,
		Before: json.RawMessage(`{"id":42,"nome":"A"}`), After: json.RawMessage(`{"id":42,"nome":"B"}`),
	})

	entries, err := s.store.FindByEntity(context.Background(), "Produto", "42")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(audit.ActionUpdate, entries[0].Action)
	s.True(s.now.Equal(entries[0].OccurredAt))
	s.JSONEq(`{"kind":"diff","changes":{"nome":{"before":"A","after":"B"}}}`, string(entries[0].Content))
	s.Equal(audit.ActionCreate, entries[1].Action)
	s.Nil(entries[1].Before)
}

func (s *StoreIntegrationSuite) TestNullTenantExcludedFromTenantReads() {
	s.save(context.Background(), audit.Event{
		EntityName: "Parceiro", EntityID: "7", Action: audit.ActionDelete,
		Actor: audit.ActorSystem, OccurredAt: s.now, Before: json.RawMessage(`{"id":7}`),
	})
	s.save(requestcontext.WithTenantID(context.Background(), "ACME"), audit.Event{
		EntityName: "Parceiro", EntityID: "8", Action: audit.ActionCreate,
		TenantID: "ACME", Actor: "bob", OccurredAt: s.now, After: json.RawMessage(`{"id":8}`),
	})

	entries, err := s.store.FindByTenant(context.Background(), "ACME", 10)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("8", entries[0].EntityID)

	all, err := s.store.FindByEntity(context.Background(), "Parceiro", "7")
	s.Require().NoError(err)
	s.Require().Len(all, 1)
	s.True(all[0].TenantID.IsZero())
	s.Nil(all[0].After)
}

func (s *StoreIntegrationSuite) TestDeleteOlderThanIsIdempotent() {
	for i := range 5 {
		s.save(context.Background(), audit.Event{
			EntityName: "Produto", EntityID: "1", Action: audit.ActionUpdate,
			Actor: "SYSTEM", OccurredAt: s.now.AddDate(0, 0, -100-i), After: json.RawMessage(`{}`),
		})
	}
	s.save(context.Background(), audit.Event{
		EntityName: "Produto", EntityID: "1", Action: audit.ActionUpdate,
		Actor: "SYSTEM", OccurredAt: s.now, After: json.RawMessage(`{}`),
	})

	cutoff := s.now.AddDate(0, 0, -90)
	n, err := s.store.DeleteOlderThan(context.Background(), cutoff)
	s.Require().NoError(err)
	s.Equal(int64(5), n)

	n, err = s.store.DeleteOlderThan(context.Background(), cutoff)
	s.Require().NoError(err)
	s.Zero(n)

	remaining, err := s.store.FindByEntity(context.Background(), "Produto", "1")
	s.Require().NoError(err)
	s.Len(remaining, 1)
}
