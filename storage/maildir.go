package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/emersion/go-maildir"

	"github.com/Atlantis-Software/n3/pkg/metrics"
)

// MaildirBackend serves maildrops from one Maildir per user under a root
// directory. Message UIDs are the maildir keys, which are unique and
// stable for the life of a message.
type MaildirBackend struct {
	root string
}

// NewMaildirBackend uses root as the parent of per-user maildirs.
func NewMaildirBackend(root string) (*MaildirBackend, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create maildir root: %w", err)
	}
	return &MaildirBackend{root: root}, nil
}

// userDir maps a user to their maildir, refusing path traversal in the
// username.
func (b *MaildirBackend) userDir(user string) (maildir.Dir, error) {
	if strings.ContainsAny(user, "/\\") || strings.Contains(user, "..") {
		return "", fmt.Errorf("invalid username %q", user)
	}
	path := filepath.Join(b.root, user)
	dir := maildir.Dir(path)
	if _, err := os.Stat(filepath.Join(path, "cur")); os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0700); err != nil {
			return "", err
		}
		if err := dir.Init(); err != nil {
			return "", err
		}
	}
	return dir, nil
}

// Open implements Backend.
func (b *MaildirBackend) Open(_ context.Context, user string) (Maildrop, error) {
	dir, err := b.userDir(user)
	if err != nil {
		return nil, err
	}
	return &maildirMaildrop{dir: dir}, nil
}

// Deliver implements Deliverer.
func (b *MaildirBackend) Deliver(_ context.Context, user string, body []byte) error {
	dir, err := b.userDir(user)
	if err != nil {
		return err
	}
	delivery, err := maildir.NewDelivery(string(dir))
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
		return err
	}
	if _, err := delivery.Write(body); err != nil {
		_ = delivery.Abort()
		metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
		return err
	}
	if err := delivery.Close(); err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("deliver", "error").Inc()
		return err
	}
	metrics.StoreOperationsTotal.WithLabelValues("deliver", "success").Inc()
	return nil
}

type maildirMaildrop struct {
	dir maildir.Dir
}

// Register implements Maildrop. Messages still in new/ are moved to cur/
// first so the snapshot covers the whole drop; order follows maildir key
// order as returned by the library.
func (m *maildirMaildrop) Register(_ context.Context) ([]MessageInfo, error) {
	if _, err := m.dir.Unseen(); err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to scan maildir: %w", err)
	}

	msgs, err := m.dir.Messages()
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("register", "error").Inc()
		return nil, fmt.Errorf("failed to list maildir: %w", err)
	}

	var infos []MessageInfo
	for _, msg := range msgs {
		fi, err := os.Stat(msg.Filename())
		if err != nil {
			continue
		}
		infos = append(infos, MessageInfo{UID: msg.Key(), Size: fi.Size()})
	}

	metrics.StoreOperationsTotal.WithLabelValues("register", "success").Inc()
	return infos, nil
}

// Read implements Maildrop.
func (m *maildirMaildrop) Read(_ context.Context, uid string) ([]byte, error) {
	msg, err := m.dir.MessageByKey(uid)
	if err != nil {
		return nil, ErrNoSuchMessage
	}
	r, err := msg.Open()
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("read", "error").Inc()
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		metrics.StoreOperationsTotal.WithLabelValues("read", "error").Inc()
		return nil, err
	}
	metrics.StoreOperationsTotal.WithLabelValues("read", "success").Inc()
	return data, nil
}

// RemoveDeleted implements Maildrop.
func (m *maildirMaildrop) RemoveDeleted(_ context.Context, uids []string) error {
	var lastErr error
	for _, uid := range uids {
		msg, err := m.dir.MessageByKey(uid)
		if err != nil {
			// Already gone
			continue
		}
		if err := msg.Remove(); err != nil && !os.IsNotExist(err) {
			lastErr = err
			continue
		}
		metrics.MessagesDeletedTotal.Inc()
	}
	if lastErr != nil {
		metrics.StoreOperationsTotal.WithLabelValues("remove", "error").Inc()
		return lastErr
	}
	metrics.StoreOperationsTotal.WithLabelValues("remove", "success").Inc()
	return nil
}

func (m *maildirMaildrop) Close() error {
	return nil
}
