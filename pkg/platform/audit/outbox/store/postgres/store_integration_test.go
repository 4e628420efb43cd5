//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"framewise/pkg/platform/audit/outbox"
	outboxpostgres "framewise/pkg/platform/audit/outbox/store/postgres"
	"framewise/pkg/testutil/containers"
)

type OutboxStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *outboxpostgres.Store
	ctx      context.Context
}

func TestOutboxStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(OutboxStoreSuite))
}

func (s *OutboxStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = outboxpostgres.New(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *OutboxStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "outbox"))
}

func (s *OutboxStoreSuite) appendEntry(id string) *outbox.Entry {
	e := outbox.NewEntry("audit_event", id, "billing_event_processed", []byte(`{"subject":"`+id+`"}`))
	s.Require().NoError(s.store.Append(s.ctx, e))
	return e
}

func (s *OutboxStoreSuite) TestFetchOldestFirst() {
	first := s.appendEntry("evt_1")
	second := s.appendEntry("evt_2")

	got, err := s.store.FetchUnprocessed(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(first.ID, got[0].ID)
	s.Equal(second.ID, got[1].ID)
}

func (s *OutboxStoreSuite) TestMarkProcessedOnce() {
	e := s.appendEntry("evt_1")

	s.Require().NoError(s.store.MarkProcessed(s.ctx, e.ID, time.Now()))
	s.Error(s.store.MarkProcessed(s.ctx, e.ID, time.Now()))

	pending, err := s.store.CountPending(s.ctx)
	s.Require().NoError(err)
	s.Zero(pending)
}

func (s *OutboxStoreSuite) TestMarkFailedParksAtLimit() {
	e := s.appendEntry("evt_1")

	parked, err := s.store.MarkFailed(s.ctx, e.ID, "broker unavailable", 2, time.Now())
	s.Require().NoError(err)
	s.False(parked)

	got, err := s.store.FetchUnprocessed(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(1, got[0].Attempts)
	s.Equal("broker unavailable", got[0].LastError)

	parked, err = s.store.MarkFailed(s.ctx, e.ID, "broker unavailable", 2, time.Now())
	s.Require().NoError(err)
	s.True(parked)

	got, err = s.store.FetchUnprocessed(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(got)

	purged, err := s.store.DeleteProcessedBefore(s.ctx, time.Now().Add(time.Hour))
	s.Require().NoError(err)
	s.Zero(purged, "parked entries survive purge")
}
