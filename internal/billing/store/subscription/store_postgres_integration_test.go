//go:build integration

package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"framewise/internal/billing/models"
	"framewise/internal/billing/store/subscription"
	"framewise/pkg/platform/sentinel"
	"framewise/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *subscription.PostgresStore
	ctx      context.Context
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = subscription.NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "billing_subscriptions"))
	s.ctx = context.Background()
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) TestSaveFindUpdate() {
	sub := models.NewSubscription("cus_1", s.now)
	s.Require().NoError(s.store.Save(s.ctx, sub))

	got, err := s.store.FindByCustomerID(s.ctx, "cus_1")
	s.Require().NoError(err)
	s.Equal(sub.ID, got.ID)
	s.Empty(got.SubscriptionID)
	s.Equal(models.PlanFree, got.PlanKey)

	end := s.now.Add(30 * 24 * time.Hour)
	sub.SubscriptionID = "sub_1"
	sub.TenantID = "org_1"
	sub.Status = models.SubscriptionActive
	sub.PlanKey = models.PlanPro
	sub.CurrentPeriodEnd = &end
	sub.UpdatedAt = s.now.Add(time.Second)
	s.Require().NoError(s.store.Save(s.ctx, sub))

	got, err = s.store.FindBySubscriptionID(s.ctx, "sub_1")
	s.Require().NoError(err)
	s.Equal("org_1", got.TenantID)
	s.Equal(models.SubscriptionActive, got.Status)
	s.Equal(models.PlanPro, got.PlanKey)
	s.Require().NotNil(got.CurrentPeriodEnd)
	s.True(end.Equal(*got.CurrentPeriodEnd))

	list, err := s.store.ListByTenant(s.ctx, "org_1")
	s.Require().NoError(err)
	s.Len(list, 1)
}

func (s *PostgresStoreSuite) TestDuplicateSubscriptionID() {
	a := models.NewSubscription("cus_1", s.now)
	a.SubscriptionID = "sub_1"
	s.Require().NoError(s.store.Save(s.ctx, a))

	b := models.NewSubscription("cus_2", s.now)
	b.SubscriptionID = "sub_1"
	s.ErrorIs(s.store.Save(s.ctx, b), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestNotFound() {
	_, err := s.store.FindBySubscriptionID(s.ctx, "sub_missing")
	s.ErrorIs(err, sentinel.ErrNotFound)
}
