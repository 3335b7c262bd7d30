package db

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"github.com/mahaj/campus-chat/pkg/config"
)

type Session struct {
	*gocql.Session
}

func newCluster(hosts []string, keyspace string) *gocql.ClusterConfig {
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
	return cluster
}

// NewSession connects to the configured keyspace.
func NewSession(cfg config.ScyllaConfig, logger *zap.Logger) (*Session, error) {
	session, err := newCluster(cfg.Hosts, cfg.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}

	if logger != nil {
		logger.Info("connected to ScyllaDB cluster", zap.Strings("hosts", cfg.Hosts), zap.String("keyspace", cfg.Keyspace))
	}
	return &Session{Session: session}, nil
}

// EnsureKeyspace creates the keyspace through the system keyspace. It has to
// run before NewSession on a fresh cluster.
func EnsureKeyspace(cfg config.ScyllaConfig) error {
	sys, err := newCluster(cfg.Hosts, "system").CreateSession()
	if err != nil {
		return fmt.Errorf("connect to system keyspace: %w", err)
	}
	defer sys.Close()

	stmt := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH REPLICATION = { 'class' : 'SimpleStrategy', 'replication_factor' : 1 }`,
		quoteIdent(cfg.Keyspace))
	if err := sys.Query(stmt).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	return nil
}

// Tables lists every table Migrate creates, in creation order.
var Tables = []string{"direct_messages", "user_conversations", "conversation_counters"}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS direct_messages (
		conversation_id text,
		id bigint,
		from_user_id bigint,
		from_user_name text,
		to_user_id bigint,
		to_user_name text,
		content text,
		client_id text,
		created_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`,
	`CREATE TABLE IF NOT EXISTS user_conversations (
		user_id bigint,
		other_user_id bigint,
		last_updated timestamp,
		PRIMARY KEY (user_id, other_user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS conversation_counters (
		user_id bigint,
		other_user_id bigint,
		unread_count counter,
		PRIMARY KEY (user_id, other_user_id)
	)`,
}

// Migrate creates the chat tables if they are missing.
func (s *Session) Migrate() error {
	for i, stmt := range schema {
		if err := s.Query(stmt).Exec(); err != nil {
			return fmt.Errorf("create table %s: %w", Tables[i], err)
		}
	}
	return nil
}

// Drop removes one of the chat tables.
func (s *Session) Drop(table string) error {
	if !knownTable(table) {
		return fmt.Errorf("unknown table %q", table)
	}
	if err := s.Query("DROP TABLE IF EXISTS " + table).Exec(); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

func knownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}

// quoteIdent keeps keyspace names from config out of the statement syntax.
func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '"')
	for i := 0; i < len(name); i++ {
		if name[i] == '"' {
			out = append(out, '"')
		}
		out = append(out, name[i])
	}
	return string(append(out, '"'))
}
