package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Atlantis-Software/n3/logger"
	"github.com/Atlantis-Software/n3/pkg/metrics"
	"github.com/Atlantis-Software/n3/server/idgen"
)

// SQLiteBackend keeps the message index in a SQLite database. Bodies are
// stored inline unless an S3 body store is attached, in which case the
// database only records the content hash and bodies live in the object
// store, deduplicated across users.
type SQLiteBackend struct {
	db *sql.DB
	s3 *S3Storage // nil = bodies inline
}

// NewSQLiteBackend opens (and if necessary creates) the database at path.
func NewSQLiteBackend(path string, s3 *S3Storage) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Serialize writers; the POP3 workload is read-heavy and modernc's
	// driver returns SQLITE_BUSY instead of blocking.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize sqlite schema: %w", err)
	}

	return &SQLiteBackend{db: db, s3: s3}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	username     TEXT NOT NULL,
	uid          TEXT NOT NULL,
	size         INTEGER NOT NULL,
	content_hash TEXT,
	body         BLOB,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE (username, uid)
);
CREATE INDEX IF NOT EXISTS idx_messages_username ON messages (username);
CREATE INDEX IF NOT EXISTS idx_messages_content_hash ON messages (content_hash);
`

// Close closes the underlying database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Open implements Backend.
func (b *SQLiteBackend) Open(_ context.Context, user string) (Maildrop, error) {
	return &sqliteMaildrop{backend: b, user: user}, nil
}

// Deliver implements Deliverer. With an S3 body store attached the body is
// uploaded content-addressed and only the hash is recorded; identical
// bodies delivered to several users share one object.
func (b *SQLiteBackend) Deliver(ctx context.Context, user string, body []byte) error {
	uid := idgen.New()

	if b.s3 != nil {
		hash, err := b.s3.PutContent(ctx, body)
		if err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
			return fmt.Errorf("failed to store message body: %w", err)
		}
		_, err = b.db.ExecContext(ctx,
			`INSERT INTO messages (username, uid, size, content_hash) VALUES (?, ?, ?, ?)`,
			user, uid, len(body), hash)
		if err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
			return fmt.Errorf("failed to index message: %w", err)
		}
	} else {
		_, err := b.db.ExecContext(ctx,
			`INSERT INTO messages (username, uid, size, body) VALUES (?, ?, ?, ?)`,
			user, uid, len(body), body)
		if err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
			return fmt.Errorf("failed to store message: %w", err)
		}
	}

	metrics.StoreOperationsTotal.WithLabelValues("deliver", "success").Inc()
	return nil
}

type sqliteMaildrop struct {
	backend *SQLiteBackend
	user    string
}

// Register implements Maildrop. Snapshot order follows delivery order so
// ordinals are stable for the life of the session.
func (m *sqliteMaildrop) Register(ctx context.Context) ([]MessageInfo, error) {
	rows, err := m.backend.db.QueryContext(ctx,
		`SELECT uid, size FROM messages WHERE username = ? ORDER BY id`, m.user)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var infos []MessageInfo
	for rows.Next() {
		var info MessageInfo
		if err := rows.Scan(&info.UID, &info.Size); err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("register", "error").Inc()
			return nil, err
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, err
	}

	metrics.StoreOperationsTotal.WithLabelValues("register", "success").Inc()
	return infos, nil
}

// Read implements Maildrop.
func (m *sqliteMaildrop) Read(ctx context.Context, uid string) ([]byte, error) {
	var body []byte
	var hash sql.NullString
	err := m.backend.db.QueryRowContext(ctx,
		`SELECT body, content_hash FROM messages WHERE username = ? AND uid = ?`,
		m.user, uid).Scan(&body, &hash)
	if err == sql.ErrNoRows {
		return nil, ErrNoSuchMessage
	}
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("read", "error").Inc()
		return nil, fmt.Errorf("failed to read message %s: %w", uid, err)
	}

	if hash.Valid && m.backend.s3 != nil {
		body, err = m.backend.s3.GetContent(ctx, hash.String)
		if err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("read", "error").Inc()
			return nil, fmt.Errorf("failed to read message %s from object store: %w", uid, err)
		}
	}

	metrics.StoreOperationsTotal.WithLabelValues("read", "success").Inc()
	return body, nil
}

// RemoveDeleted implements Maildrop. Offloaded bodies are removed from the
// object store only when no other message still references the hash.
func (m *sqliteMaildrop) RemoveDeleted(ctx context.Context, uids []string) error {
	if len(uids) == 0 {
		return nil
	}

	var orphaned []string
	for _, uid := range uids {
		var hash sql.NullString
		err := m.backend.db.QueryRowContext(ctx,
			`SELECT content_hash FROM messages WHERE username = ? AND uid = ?`,
			m.user, uid).Scan(&hash)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("remove", "error").Inc()
			return fmt.Errorf("failed to resolve message %s: %w", uid, err)
		}

		if _, err := m.backend.db.ExecContext(ctx,
			`DELETE FROM messages WHERE username = ? AND uid = ?`, m.user, uid); err != nil {
			metrics.StoreOperationsTotal.WithLabelValues("remove", "error").Inc()
			return fmt.Errorf("failed to remove message %s: %w", uid, err)
		}
		metrics.MessagesDeletedTotal.Inc()

		if hash.Valid {
			var refs int
			if err := m.backend.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM messages WHERE content_hash = ?`, hash.String).Scan(&refs); err == nil && refs == 0 {
				orphaned = append(orphaned, hash.String)
			}
		}
	}

	if m.backend.s3 != nil {
		for _, hash := range orphaned {
			if err := m.backend.s3.Delete(ctx, hash); err != nil {
				// The index row is already gone; the object will be
				// picked up by a later cleanup run.
				logger.Warn("STORAGE: failed to delete orphaned object", "hash", hash, "error", err)
			}
		}
	}

	metrics.StoreOperationsTotal.WithLabelValues("remove", "success").Inc()
	return nil
}

func (m *sqliteMaildrop) Close() error {
	// The backend owns the database handle.
	return nil
}
