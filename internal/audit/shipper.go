// Package audit records workspace mutations. Every entry is stored in the
// audit_logs table; configured shippers additionally receive a flat copy so
// records can be collected by a log aggregator independently of the
// application's own logs.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/orbit-workspaces/orbit/internal/config"
	"github.com/orbit-workspaces/orbit/internal/db/models"
)

// LogEntry is the shipped form of an audit record.
type LogEntry struct {
	Timestamp    time.Time              `json:"timestamp"`
	Action       string                 `json:"action"`
	UserID       string                 `json:"user_id,omitempty"`
	WorkspaceID  string                 `json:"workspace_id,omitempty"`
	ResourceType string                 `json:"resource_type,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewLogEntry flattens a stored audit record.
func NewLogEntry(log *models.AuditLog) *LogEntry {
	e := &LogEntry{
		Timestamp: log.CreatedAt,
		Action:    log.Action,
		Metadata:  log.Metadata,
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if log.UserID != nil {
		e.UserID = strconv.FormatInt(*log.UserID, 10)
	}
	if log.WorkspaceGroupID != nil {
		e.WorkspaceID = strconv.FormatInt(*log.WorkspaceGroupID, 10)
	}
	if log.ResourceType != nil {
		e.ResourceType = *log.ResourceType
	}
	if log.ResourceID != nil {
		e.ResourceID = *log.ResourceID
	}
	if log.IPAddress != nil {
		e.IPAddress = *log.IPAddress
	}
	return e
}

// Shipper defines the interface for audit log shipping
type Shipper interface {
	// Ship sends an audit log entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close cleans up any resources
	Close() error
}

// Store persists audit records. Implemented by *repositories.AuditRepository.
type Store interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// Recorder stores audit records and ships them to every configured shipper.
// It satisfies middleware.AuditWriter.
type Recorder struct {
	store    Store
	shippers []Shipper
}

// NewRecorder creates a Recorder. store may be nil when only shipping.
func NewRecorder(store Store, shippers ...Shipper) *Recorder {
	return &Recorder{store: store, shippers: shippers}
}

// NewRecorderFromConfig opens the shippers named in cfg.
func NewRecorderFromConfig(store Store, cfg *config.AuditConfig) (*Recorder, error) {
	var shippers []Shipper
	if cfg != nil && cfg.File.Path != "" {
		fs, err := NewFileShipper(&cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to create file shipper: %w", err)
		}
		shippers = append(shippers, fs)
	}
	return NewRecorder(store, shippers...), nil
}

// CreateAuditLog stores the record, then ships it. A shipping failure does not
// prevent the other shippers from receiving the entry.
func (r *Recorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	var errs []error
	if r.store != nil {
		if err := r.store.CreateAuditLog(ctx, log); err != nil {
			errs = append(errs, err)
		}
	}
	if len(r.shippers) == 0 {
		return errors.Join(errs...)
	}
	entry := NewLogEntry(log)
	for _, s := range r.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			slog.Warn("audit shipper error", "action", entry.Action, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (r *Recorder) Close() error {
	var errs []error
	for _, s := range r.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FileShipper appends audit entries to a file as JSON lines, rotating it when
// it grows past MaxSizeMB.
type FileShipper struct {
	cfg  *config.AuditFileConfig
	file *os.File
	mu   sync.Mutex
}

// NewFileShipper opens (or creates) the audit file.
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	file, err := os.OpenFile(cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}
	return &FileShipper{cfg: cfg, file: file}, nil
}

// Ship writes an entry to the file
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.cfg.MaxSizeMB > 0 {
		info, err := fs.file.Stat()
		if err == nil && info.Size() > int64(fs.cfg.MaxSizeMB)*1024*1024 {
			if err := fs.rotate(); err != nil {
				slog.Error("failed to rotate audit log", "path", fs.cfg.Path, "error", err)
			}
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := fs.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// rotate shifts path.N to path.N+1, keeping at most MaxBackups files.
func (fs *FileShipper) rotate() error {
	if err := fs.file.Close(); err != nil {
		return err
	}

	for i := fs.cfg.MaxBackups - 1; i >= 1; i-- {
		_ = os.Rename(fmt.Sprintf("%s.%d", fs.cfg.Path, i), fmt.Sprintf("%s.%d", fs.cfg.Path, i+1))
	}
	if fs.cfg.MaxBackups > 0 {
		_ = os.Rename(fs.cfg.Path, fs.cfg.Path+".1")
		_ = os.Remove(fmt.Sprintf("%s.%d", fs.cfg.Path, fs.cfg.MaxBackups+1))
	} else {
		_ = os.Remove(fs.cfg.Path)
	}

	file, err := os.OpenFile(fs.cfg.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	fs.file = file
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.file.Close()
}
