package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smartsched/internal/domain/negotiation"
	"smartsched/internal/infra/filestore"
	"smartsched/internal/logging"
)

// File stores one JSON document per session. Sessions idle longer than
// idleTTL read as missing and are removed.
type File struct {
	baseDir string
	idleTTL time.Duration
	now     func() time.Time
	logger  logging.Logger
}

// FileOption customizes a File store.
type FileOption func(*File)

// WithFileClock overrides the clock used for idle checks.
func WithFileClock(now func() time.Time) FileOption {
	return func(f *File) { f.now = now }
}

// NewFile creates the directory if needed. A leading ~ in baseDir is
// expanded to the home directory.
func NewFile(baseDir string, idleTTL time.Duration, opts ...FileOption) (*File, error) {
	baseDir = filestore.ResolvePath(baseDir, "")
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure session directory: %w", err)
	}
	f := &File{
		baseDir: baseDir,
		idleTTL: idleTTL,
		now:     time.Now,
		logger:  logging.NewComponentLogger("SessionFileStore"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

func (f *File) path(sessionID string) string {
	return filepath.Join(f.baseDir, sessionID+".json")
}

func (f *File) Get(ctx context.Context, sessionID string) (*negotiation.ConversationContext, error) {
	if err := ValidateID(sessionID); err != nil {
		return nil, notFound(sessionID)
	}
	data, err := filestore.ReadFileOrEmpty(f.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", sessionID, err)
	}
	if data == nil {
		return nil, notFound(sessionID)
	}
	var conv negotiation.ConversationContext
	if err := json.Unmarshal(data, &conv); err != nil {
		f.logger.Error("Failed to decode session file %s: %v. Preview: %s", f.path(sessionID), err, previewJSON(data))
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	if f.expired(conv.UpdatedAt) {
		_ = f.Delete(ctx, sessionID)
		return nil, notFound(sessionID)
	}
	return &conv, nil
}

func (f *File) Put(ctx context.Context, conv *negotiation.ConversationContext) error {
	if conv == nil {
		return fmt.Errorf("nil conversation")
	}
	if err := ValidateID(conv.SessionID); err != nil {
		return err
	}
	data, err := filestore.MarshalJSONIndent(conv)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", conv.SessionID, err)
	}
	if err := filestore.AtomicWrite(f.path(conv.SessionID), data, 0o600); err != nil {
		return fmt.Errorf("write session %s: %w", conv.SessionID, err)
	}
	return nil
}

func (f *File) Delete(ctx context.Context, sessionID string) error {
	if err := ValidateID(sessionID); err != nil {
		return nil
	}
	err := os.Remove(f.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Prune removes every idle session file and returns how many went.
func (f *File) Prune(ctx context.Context) (int, error) {
	if f.idleTTL <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(f.baseDir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		if _, err := f.Get(ctx, id); errors.Is(err, negotiation.ErrSessionNotFound) {
			removed++
		}
	}
	return removed, nil
}

func (f *File) expired(updatedAt time.Time) bool {
	return f.idleTTL > 0 && f.now().Sub(updatedAt) > f.idleTTL
}

func previewJSON(data []byte) string {
	const maxPreview = 256
	preview := strings.TrimSpace(string(data))
	preview = strings.ReplaceAll(preview, "\n", " ")
	if len(preview) > maxPreview {
		preview = preview[:maxPreview] + "... (truncated)"
	}
	return preview
}

var _ negotiation.SessionStore = (*File)(nil)
