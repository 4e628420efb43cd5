//go:build integration

package ledger_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"framewise/internal/billing/store/ledger"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/platform/tx"
	"framewise/pkg/requestcontext"
	"framewise/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *ledger.PostgresStore
	now      time.Time
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = ledger.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "webhook_events"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *PostgresStoreSuite) TestLifecycle() {
	id := "evt_" + uuid.NewString()

	rec, err := s.store.GetOrCreate(s.ctx, id, "invoice.paid", "")
	s.Require().NoError(err)
	s.False(rec.IsProcessed())
	s.Empty(rec.TenantID)

	rec, err = s.store.GetOrCreate(s.ctx, id, "invoice.paid", "org_1")
	s.Require().NoError(err)
	s.Equal("org_1", rec.TenantID)

	rec, err = s.store.GetOrCreate(s.ctx, id, "invoice.paid", "org_2")
	s.Require().NoError(err)
	s.Equal("org_1", rec.TenantID)

	ok, err := s.store.MarkProcessed(s.ctx, id, "", s.now)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.MarkProcessed(s.ctx, id, "", s.now)
	s.Require().NoError(err)
	s.False(ok)

	rec, err = s.store.GetOrCreate(s.ctx, id, "invoice.paid", "")
	s.Require().NoError(err)
	s.Require().NotNil(rec.ProcessedAt)
	s.True(s.now.Equal(*rec.ProcessedAt))
}

func (s *PostgresStoreSuite) TestMarkProcessedUnknown() {
	_, err := s.store.MarkProcessed(s.ctx, "evt_missing", "", s.now)
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.Find(s.ctx, "evt_missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRolledBackMarkLeavesEventSeen() {
	id := "evt_" + uuid.NewString()
	_, err := s.store.GetOrCreate(s.ctx, id, "x", "")
	s.Require().NoError(err)

	sqlTx, err := s.postgres.DB.BeginTx(s.ctx, nil)
	s.Require().NoError(err)
	ok, err := s.store.MarkProcessed(tx.WithTx(s.ctx, sqlTx), id, "", s.now)
	s.Require().NoError(err)
	s.True(ok)
	s.Require().NoError(sqlTx.Rollback())

	rec, err := s.store.Find(s.ctx, id)
	s.Require().NoError(err)
	s.False(rec.IsProcessed())
}

func (s *PostgresStoreSuite) TestConcurrentGetOrCreateAndMark() {
	id := "evt_" + uuid.NewString()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.store.GetOrCreate(s.ctx, id, "x", ""); err != nil {
				return
			}
			if ok, err := s.store.MarkProcessed(s.ctx, id, "", s.now); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	var rows int
	s.Require().NoError(s.postgres.QueryRow(s.ctx,
		`SELECT COUNT(*) FROM webhook_events WHERE external_event_id = $1`, id).Scan(&rows))
	s.Equal(1, rows)
}
