package db

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gocql/gocql"
)

type Session struct {
	*gocql.Session
}

func NewSession(hosts []string, keyspace string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 5 * time.Second
	cluster.ConnectTimeout = 5 * time.Second

	// Retry policy
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        1 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla %v: %w", hosts, err)
	}

	logger.Info("connected to scylla", "hosts", hosts, "keyspace", keyspace)
	return &Session{Session: session}, nil
}
