package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

// NewSession connects to the Scylla cluster at hosts using keyspace.
func NewSession(hosts []string, keyspace string) (*Session, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("db: scylla connect %v/%s: %w", hosts, keyspace, err)
	}
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates keyspace through the system keyspace. Schema
// belongs to a migration step, not to service start-up.
func EnsureKeyspace(hosts []string, keyspace string) error {
	sys, err := NewSession(hosts, "system")
	if err != nil {
		return err
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`, keyspace)
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("db: create keyspace %s: %w", keyspace, err)
	}
	return nil
}

// ApplySchema executes each CQL statement in order.
func (s *Session) ApplySchema(statements []string) error {
	for _, stmt := range statements {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("db: apply schema: %w", err)
		}
	}
	return nil
}
