package metrics

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boris-cremit/nebula/pkg/log"
)

// WorkspaceCounter reports the number of registered workspaces. Satisfied
// by PostgresWorkspaceCounter.
type WorkspaceCounter interface {
	CountWorkspaces(ctx context.Context) (int, error)
}

// PostgresWorkspaceCounter counts rows in control.workspace directly
// against the pool, independent of any request-scoped transaction.
type PostgresWorkspaceCounter struct {
	pool *pgxpool.Pool
}

func NewPostgresWorkspaceCounter(pool *pgxpool.Pool) *PostgresWorkspaceCounter {
	return &PostgresWorkspaceCounter{pool: pool}
}

func (c *PostgresWorkspaceCounter) CountWorkspaces(ctx context.Context) (int, error) {
	var count int
	err := c.pool.QueryRow(ctx, `SELECT count(*) FROM control.workspace WHERE NOT deleted`).Scan(&count)
	return count, err
}

// Collector periodically refreshes gauges that have no natural place to
// update on the request path, e.g. the total workspace count.
type Collector struct {
	counter WorkspaceCounter
	stopCh  chan struct{}
}

// NewCollector builds a Collector over counter.
func NewCollector(counter WorkspaceCounter) *Collector {
	return &Collector{
		counter: counter,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds, collecting once
// immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	count, err := c.counter.CountWorkspaces(context.Background())
	if err != nil {
		log.WithComponent("metrics").Warn().Err(err).Msg("failed to count workspaces")
		return
	}
	WorkspacesTotal.Set(float64(count))
}
