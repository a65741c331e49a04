//go:build integration

package postgres_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/godamri/helix-activity/audit"
	"github.com/godamri/helix-activity/audit/store/postgres"
	"github.com/godamri/helix-activity/database"
)

type PostgresStoreSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *sql.DB
	store     *postgres.Store
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("activity"),
		tcpostgres.WithUsername("activity"),
		tcpostgres.WithPassword("activity"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.db, err = sql.Open("pgx", dsn)
	s.Require().NoError(err)
	s.Require().NoError(database.Migrate(ctx, s.db))
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `TRUNCATE audit_logs RESTART IDENTITY`)
	s.Require().NoError(err)

	s.store, err = postgres.New(ctx, s.db)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestAppendAndQueryRoundTrip() {
	ctx := context.Background()

	e, err := s.store.Append(ctx, audit.EntryInput{
		Action:     audit.ActionOrderStatusChange,
		Summary:    "Order o1 status changed from pending to paid",
		ActorID:    "u1",
		TargetID:   "o1",
		TargetType: audit.TargetTypeOrder,
		Metadata:   map[string]any{"newStatus": "paid", "itemCount": 2},
	})
	s.Require().NoError(err)

	page, err := s.store.Query(ctx, audit.Filter{Action: audit.ActionOrderStatusChange})
	s.Require().NoError(err)
	s.Require().Len(page.Items, 1)

	got := page.Items[0]
	s.Equal(e.ID, got.ID)
	s.Equal(e.CreatedAt, got.CreatedAt)
	s.Equal("u1", got.ActorID)
	s.Empty(got.ActorEmail)
	s.Equal("paid", got.Metadata["newStatus"])
	s.EqualValues(2, got.Metadata["itemCount"])
	s.Nil(page.NextCursor)
}

func (s *PostgresStoreSuite) TestPaginationIsStable() {
	ctx := context.Background()
	for range 12 {
		_, err := s.store.Append(ctx, audit.EntryInput{Action: "admin.user.promote", Summary: "x"})
		s.Require().NoError(err)
	}

	var (
		cursor *int64
		total  int
		prev   int64
	)
	for {
		page, err := s.store.Query(ctx, audit.Filter{Limit: 5, After: cursor})
		s.Require().NoError(err)
		for _, e := range page.Items {
			if total > 0 {
				s.Less(e.CreatedAt, prev)
			}
			prev = e.CreatedAt
			total++
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}
	s.Equal(12, total)
}

func (s *PostgresStoreSuite) TestIdempotencyKeyUnderConcurrency() {
	ctx := context.Background()
	in := audit.EntryInput{Action: audit.ActionOrderStatusChange, Summary: "x", IdempotencyKey: "order.status_change:e1"}

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := s.store.Append(ctx, in)
			s.NoError(err)
			ids[i] = e.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		s.Equal(ids[0], id)
	}

	var n int
	s.Require().NoError(s.db.QueryRowContext(ctx, `SELECT count(*) FROM audit_logs`).Scan(&n))
	s.Equal(1, n)
}

func (s *PostgresStoreSuite) TestClockResumesAfterRestart() {
	ctx := context.Background()
	future := time.Now().Add(time.Hour).UnixMilli()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, summary, created_at) VALUES (gen_random_uuid(), 'a.b', 'x', $1)`, future)
	s.Require().NoError(err)

	restarted, err := postgres.New(ctx, s.db)
	s.Require().NoError(err)

	e, err := restarted.Append(ctx, audit.EntryInput{Action: "a.b", Summary: "y"})
	s.Require().NoError(err)
	s.Greater(e.CreatedAt, future)
}
