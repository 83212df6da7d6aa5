package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Checkpoint errors.
var (
	ErrCheckpointNotFound  = errors.New("checkpoint not found")
	ErrCheckpointCorrupted = errors.New("checkpoint integrity check failed")
	ErrCheckpointExists    = errors.New("checkpoint already exists")
	ErrInvalidCheckpointID = errors.New("invalid checkpoint id")
)

// maxAutoCheckpoints is how many automatic checkpoints are retained.
const maxAutoCheckpoints = 5

// CheckpointManager snapshots the database file before risky batch operations.
type CheckpointManager struct {
	db             *sql.DB
	dbPath         string
	checkpointsDir string
}

// CheckpointInfo describes a stored checkpoint.
type CheckpointInfo struct {
	CreatedAt     time.Time      `json:"created_at"`
	RowCounts     map[string]int `json:"row_counts"`
	ID            string         `json:"id"`
	Description   string         `json:"description"`
	FileSize      int64          `json:"file_size"`
	SchemaVersion int            `json:"schema_version"`
	IsAuto        bool           `json:"is_auto"`
}

// NewCheckpointManager creates a manager storing checkpoints next to dbPath.
func NewCheckpointManager(db *sql.DB, dbPath string) (*CheckpointManager, error) {
	if dbPath == ":memory:" {
		return nil, fmt.Errorf("checkpoints require a file-backed database")
	}
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}

	dir := filepath.Join(filepath.Dir(abs), "checkpoints")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &CheckpointManager{db: db, dbPath: abs, checkpointsDir: dir}, nil
}

func (cm *CheckpointManager) paths(id string) (string, string, error) {
	if id == "" || strings.ContainsAny(id, `/\'";`) || strings.Contains(id, "..") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCheckpointID, id)
	}
	return filepath.Join(cm.checkpointsDir, id+".db"), filepath.Join(cm.checkpointsDir, id+".meta.json"), nil
}

// Create snapshots the database under id. An empty id is generated from the clock.
func (cm *CheckpointManager) Create(ctx context.Context, id, description string) (*CheckpointInfo, error) {
	return cm.create(ctx, id, description, false)
}

func (cm *CheckpointManager) create(ctx context.Context, id, description string, auto bool) (*CheckpointInfo, error) {
	if id == "" {
		id = "checkpoint-" + time.Now().Format("2006-01-02-150405")
	}
	dbFile, metaFile, err := cm.paths(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dbFile); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrCheckpointExists, id)
	}

	info := CheckpointInfo{
		ID:          id,
		CreatedAt:   time.Now(),
		Description: description,
		IsAuto:      auto,
		RowCounts:   cm.rowCounts(ctx),
	}
	if err := cm.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&info.SchemaVersion); err != nil {
		return nil, fmt.Errorf("failed to get schema version: %w", err)
	}

	// VACUUM INTO writes a consistent copy even while WAL frames are pending.
	if _, err := cm.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", dbFile)); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	stat, err := os.Stat(dbFile)
	if err != nil {
		return nil, fmt.Errorf("failed to stat checkpoint: %w", err)
	}
	info.FileSize = stat.Size()

	if err := writeJSONAtomic(metaFile, info); err != nil {
		_ = os.Remove(dbFile)
		return nil, fmt.Errorf("failed to save checkpoint metadata: %w", err)
	}

	counts, _ := json.Marshal(info.RowCounts)
	if _, err := cm.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO checkpoint_metadata
			(id, created_at, description, file_size, row_counts, schema_version, is_auto)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, info.ID, info.CreatedAt, info.Description, info.FileSize, string(counts), info.SchemaVersion, info.IsAuto); err != nil {
		slog.Warn("Failed to record checkpoint in database", "checkpoint", id, "error", err)
	}

	return &info, nil
}

// List returns checkpoints newest first. Unreadable metadata files are skipped.
func (cm *CheckpointManager) List(_ context.Context) ([]CheckpointInfo, error) {
	entries, err := os.ReadDir(cm.checkpointsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoints directory: %w", err)
	}

	var out []CheckpointInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".meta.json") {
			continue
		}
		info, err := readInfo(filepath.Join(cm.checkpointsDir, entry.Name()))
		if err != nil {
			slog.Debug("Skipping unreadable checkpoint metadata", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, *info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Restore replaces the database file with a checkpoint. It closes the
// manager's connection; callers must reopen storage afterwards.
func (cm *CheckpointManager) Restore(_ context.Context, id string) error {
	dbFile, metaFile, err := cm.paths(id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dbFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
		}
		return fmt.Errorf("failed to access checkpoint: %w", err)
	}
	if _, err := readInfo(metaFile); err != nil {
		return fmt.Errorf("failed to load checkpoint metadata: %w", err)
	}
	if err := integrityCheck(dbFile); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointCorrupted, err)
	}

	if err := cm.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	backup := cm.dbPath + ".restore-backup"
	if err := copyFileAtomic(cm.dbPath, backup); err != nil {
		return fmt.Errorf("failed to back up current database: %w", err)
	}
	if err := copyFileAtomic(dbFile, cm.dbPath); err != nil {
		if rollbackErr := copyFileAtomic(backup, cm.dbPath); rollbackErr != nil {
			slog.Error("Failed to roll back database after restore failure", "error", rollbackErr)
		}
		return fmt.Errorf("failed to restore checkpoint: %w", err)
	}
	// Stale WAL files belong to the replaced database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(cm.dbPath + suffix)
	}
	if err := os.Remove(backup); err != nil {
		slog.Warn("Failed to remove restore backup", "path", backup, "error", err)
	}
	return nil
}

// Delete removes a checkpoint.
func (cm *CheckpointManager) Delete(ctx context.Context, id string) error {
	dbFile, metaFile, err := cm.paths(id)
	if err != nil {
		return err
	}
	if err := os.Remove(dbFile); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrCheckpointNotFound, id)
		}
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	_ = os.Remove(metaFile)
	if _, err := cm.db.ExecContext(ctx, "DELETE FROM checkpoint_metadata WHERE id = ?", id); err != nil {
		slog.Debug("Failed to remove checkpoint record", "checkpoint", id, "error", err)
	}
	return nil
}

// Auto snapshots the database before an operation and prunes old automatic
// checkpoints.
func (cm *CheckpointManager) Auto(ctx context.Context, operation string) (*CheckpointInfo, error) {
	id := fmt.Sprintf("auto-%s-%s-%s", operation, time.Now().Format("20060102-150405"), uuid.NewString()[:8])
	info, err := cm.create(ctx, id, "Automatic checkpoint before "+operation, true)
	if err != nil {
		return nil, fmt.Errorf("failed to create automatic checkpoint: %w", err)
	}

	all, err := cm.List(ctx)
	if err != nil {
		slog.Warn("Failed to list checkpoints for pruning", "error", err)
		return info, nil
	}
	kept := 0
	for _, cp := range all {
		if !cp.IsAuto {
			continue
		}
		kept++
		if kept > maxAutoCheckpoints {
			if err := cm.Delete(ctx, cp.ID); err != nil {
				slog.Debug("Failed to prune automatic checkpoint", "checkpoint", cp.ID, "error", err)
			}
		}
	}
	return info, nil
}

func (cm *CheckpointManager) rowCounts(ctx context.Context) map[string]int {
	queries := map[string]string{
		"source_notes":        "SELECT COUNT(*) FROM source_notes",
		"destination_records": "SELECT COUNT(*) FROM destination_records",
		"processing_results":  "SELECT COUNT(*) FROM processing_results",
		"batch_runs":          "SELECT COUNT(*) FROM batch_runs",
		"review_events":       "SELECT COUNT(*) FROM review_events",
	}
	counts := make(map[string]int, len(queries))
	for table, query := range queries {
		var n int
		if err := cm.db.QueryRowContext(ctx, query).Scan(&n); err == nil {
			counts[table] = n
		}
	}
	return counts
}

func readInfo(path string) (*CheckpointInfo, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is built from a validated id
	if err != nil {
		return nil, err
	}
	var info CheckpointInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func copyFileAtomic(src, dst string) error {
	in, err := os.Open(src) //nolint:gosec // paths come from the manager
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // paths come from the manager
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}

func integrityCheck(path string) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return err
	}
	if result != "ok" {
		return errors.New(result)
	}
	return nil
}
