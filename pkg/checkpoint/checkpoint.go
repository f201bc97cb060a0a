package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"threadcrawl/pkg/crawler"
	"threadcrawl/pkg/logger"
)

// Version is the current checkpoint format.
const Version = 1

// Checkpoint represents the progress of one batch file
type Checkpoint struct {
	BatchFile string                     `json:"batch_file"`
	BatchID   string                     `json:"batch_id"`
	Completed map[string]crawler.Summary `json:"completed"` // task key -> summary
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Version   int                        `json:"version"`
}

// Manager handles checkpoint operations
type Manager struct {
	checkpointPath string
	logger         logger.Logger

	mu         sync.Mutex
	checkpoint *Checkpoint
}

// NewManager creates a checkpoint manager for batchFile, stored in the
// platform data directory.
func NewManager(batchFile string) (*Manager, error) {
	dataDir, err := getDataDirectory()
	if err != nil {
		return nil, fmt.Errorf("failed to get data directory: %w", err)
	}
	return NewManagerIn(filepath.Join(dataDir, "checkpoints"), batchFile)
}

// NewManagerIn creates a checkpoint manager for batchFile stored in dir.
func NewManagerIn(dir, batchFile string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}

	return &Manager{
		checkpointPath: filepath.Join(dir, checkpointName(batchFile)),
		logger:         logger.GetLogger(),
	}, nil
}

// checkpointName derives a stable file name from the batch file's
// absolute path.
func checkpointName(batchFile string) string {
	if abs, err := filepath.Abs(batchFile); err == nil {
		batchFile = abs
	}
	sum := sha256.Sum256([]byte(batchFile))
	base := filepath.Base(batchFile)
	return fmt.Sprintf("%s-%s.checkpoint.json", base, hex.EncodeToString(sum[:6]))
}

// Path returns the checkpoint file.
func (m *Manager) Path() string {
	return m.checkpointPath
}

// Create starts a fresh checkpoint, replacing any existing one.
func (m *Manager) Create(batchFile, batchID string) (*Checkpoint, error) {
	now := time.Now()
	checkpoint := &Checkpoint{
		BatchFile: batchFile,
		BatchID:   batchID,
		Completed: make(map[string]crawler.Summary),
		CreatedAt: now,
		UpdatedAt: now,
		Version:   Version,
	}

	if err := m.Save(checkpoint); err != nil {
		return nil, fmt.Errorf("failed to save initial checkpoint: %w", err)
	}

	m.mu.Lock()
	m.checkpoint = checkpoint
	m.mu.Unlock()

	m.logger.InfoWithFields("Checkpoint created", map[string]interface{}{
		"batch_file": batchFile,
		"path":       m.checkpointPath,
	})

	return checkpoint, nil
}

// Load loads an existing checkpoint. It returns nil, nil when none exists.
func (m *Manager) Load() (*Checkpoint, error) {
	file, err := os.Open(m.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer file.Close()

	var checkpoint Checkpoint
	if err := json.NewDecoder(file).Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if checkpoint.Version != Version {
		return nil, fmt.Errorf("unsupported checkpoint version %d", checkpoint.Version)
	}
	if checkpoint.Completed == nil {
		checkpoint.Completed = make(map[string]crawler.Summary)
	}

	m.mu.Lock()
	m.checkpoint = &checkpoint
	m.mu.Unlock()

	m.logger.InfoWithFields("Checkpoint loaded", map[string]interface{}{
		"batch_file": checkpoint.BatchFile,
		"completed":  len(checkpoint.Completed),
		"updated_at": checkpoint.UpdatedAt,
	})

	return &checkpoint, nil
}

// Resume loads the checkpoint of the batch, or creates one when none
// exists or force is set.
func (m *Manager) Resume(batchFile, batchID string, force bool) (*Checkpoint, error) {
	if !force {
		cp, err := m.Load()
		if err != nil {
			return nil, err
		}
		if cp != nil {
			return cp, nil
		}
	}
	return m.Create(batchFile, batchID)
}

// Save saves the checkpoint to disk atomically
func (m *Manager) Save(checkpoint *Checkpoint) error {
	checkpoint.UpdatedAt = time.Now()

	tempPath := m.checkpointPath + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(checkpoint); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}

	if err := os.Rename(tempPath, m.checkpointPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"batch_file": checkpoint.BatchFile,
		"completed":  len(checkpoint.Completed),
	})

	return nil
}

// Completed reports whether the task with key succeeded in an earlier run.
func (m *Manager) Completed(key string) (crawler.Summary, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return crawler.Summary{}, false
	}
	s, ok := m.checkpoint.Completed[key]
	return s, ok
}

// Complete records a successful task and saves the checkpoint.
func (m *Manager) Complete(key string, summary crawler.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpoint == nil {
		return fmt.Errorf("no checkpoint loaded")
	}
	m.checkpoint.Completed[key] = summary
	return m.Save(m.checkpoint)
}

// Delete removes the checkpoint file
func (m *Manager) Delete() error {
	if err := os.Remove(m.checkpointPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}

	m.mu.Lock()
	m.checkpoint = nil
	m.mu.Unlock()

	m.logger.Info("Checkpoint deleted")
	return nil
}

// Exists checks if a checkpoint file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.checkpointPath)
	return err == nil
}

// GetCheckpointInfo returns a summary of the checkpoint
func (m *Manager) GetCheckpointInfo() (map[string]interface{}, error) {
	checkpoint, err := m.Load()
	if err != nil {
		return nil, err
	}
	if checkpoint == nil {
		return nil, nil
	}

	return map[string]interface{}{
		"batch_file": checkpoint.BatchFile,
		"batch_id":   checkpoint.BatchID,
		"completed":  len(checkpoint.Completed),
		"created_at": checkpoint.CreatedAt,
		"updated_at": checkpoint.UpdatedAt,
		"age":        time.Since(checkpoint.UpdatedAt),
	}, nil
}

// BackupCheckpoint creates a backup of the current checkpoint
func (m *Manager) BackupCheckpoint() error {
	if !m.Exists() {
		return nil
	}

	backupPath := m.checkpointPath + ".backup"

	src, err := os.Open(m.checkpointPath)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(backupPath)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy checkpoint to backup: %w", err)
	}

	m.logger.Debug("Checkpoint backed up")
	return nil
}

// getDataDirectory returns the appropriate data directory for the current OS
func getDataDirectory() (string, error) {
	var dataDir string

	switch runtime.GOOS {
	case "linux":
		if xdgDataHome := os.Getenv("XDG_DATA_HOME"); xdgDataHome != "" {
			dataDir = filepath.Join(xdgDataHome, "threadcrawl")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			dataDir = filepath.Join(home, ".local", "share", "threadcrawl")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dataDir = filepath.Join(home, "Library", "Application Support", "threadcrawl")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		dataDir = filepath.Join(appData, "threadcrawl")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	return dataDir, nil
}
