package db

import (
	"fmt"
	"log/slog"
	"regexp"
)

var keyspaceName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{0,47}$`)

// Tables lists the support schema in creation order.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"support_messages", `CREATE TABLE IF NOT EXISTS support_messages (
		customer_id bigint,
		id bigint,
		sender_id text,
		sender_name text,
		sender_role text,
		text text,
		ts timestamp,
		PRIMARY KEY (customer_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"users", `CREATE TABLE IF NOT EXISTS users (
		username text PRIMARY KEY,
		id bigint,
		password_hash text,
		role text
	)`},
	{"users_by_id", `CREATE TABLE IF NOT EXISTS users_by_id (
		id bigint PRIMARY KEY,
		username text,
		role text
	)`},
}

// EnsureKeyspace creates keyspace with SimpleStrategy. s must be connected
// to the system keyspace.
func EnsureKeyspace(s *Session, keyspace string, replication int) error {
	if !keyspaceName.MatchString(keyspace) {
		return fmt.Errorf("invalid keyspace name %q", keyspace)
	}
	if replication <= 0 {
		replication = 1
	}
	q := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : %d }`, keyspace, replication)
	if err := s.Query(q).Exec(); err != nil {
		return fmt.Errorf("create keyspace %s: %w", keyspace, err)
	}
	return nil
}

func EnsureSchema(s *Session, logger *slog.Logger) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		logger.Info("table ready", "table", t.Name)
	}
	return nil
}

// DropTable drops one of the support tables.
func DropTable(s *Session, name string) error {
	for _, t := range Tables {
		if t.Name == name {
			if err := s.Query("DROP TABLE IF EXISTS " + name).Exec(); err != nil {
				return fmt.Errorf("drop table %s: %w", name, err)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown table %q", name)
}
