package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Optional  bool      `json:"optional,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type CheckerRegistry struct {
	mu       sync.RWMutex
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// Check probes every dependency concurrently. A failing optional checker
// degrades the result, any other failure makes it unhealthy.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	r.mu.RLock()
	checkers := append([]Checker(nil), r.checkers...)
	r.mu.RUnlock()

	results := make([]CheckResult, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		g.Go(func() error {
			results[i] = probe(ctx, checker)
			return nil
		})
	}
	_ = g.Wait()

	overall := StatusHealthy
	byName := make(map[string]CheckResult, len(checkers))
	for i, checker := range checkers {
		res := results[i]
		byName[checker.Name()] = res
		switch {
		case res.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case res.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    byName,
	}
}

func probe(ctx context.Context, checker Checker) CheckResult {
	_, optional := checker.(*DegradedChecker)
	res := CheckResult{Status: StatusHealthy, Optional: optional}

	if err := checker.Check(ctx); err != nil {
		res.Message = err.Error()
		res.Status = StatusUnhealthy
		if optional {
			res.Status = StatusDegraded
		}
	}

	res.Timestamp = time.Now()
	return res
}

// PingChecker adapts any ping function, such as a broker transport or a
// store client, to a named Checker bounded by checkTimeout.
type PingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func NewPingChecker(name string, ping func(ctx context.Context) error) *PingChecker {
	return &PingChecker{name: name, ping: ping}
}

func (c *PingChecker) Name() string {
	return c.name
}

func (c *PingChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

func NewPostgreSQLChecker(db *sql.DB) *PingChecker {
	return NewPingChecker("postgresql", db.PingContext)
}

func NewRedisChecker(client *redis.Client) *PingChecker {
	return NewPingChecker("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

func NewMongoDBChecker(client *mongo.Client) *PingChecker {
	return NewPingChecker("mongodb", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	})
}

// DegradedChecker reports failures as degraded rather than unhealthy.
type DegradedChecker struct {
	Checker
}

func Optional(c Checker) *DegradedChecker {
	return &DegradedChecker{Checker: c}
}
