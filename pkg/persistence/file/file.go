// Package file provides file-based persistence for single-node development setups.
// State lives in memory and every write is flushed to one JSON file per record.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/autoflow/pkg/models"
	"github.com/dukex/autoflow/pkg/persistence/memory"
)

const (
	flowsDir      = "flows"
	executionsDir = "executions"
)

// Persistence implements persistence.Persistence on top of the in-memory
// store, mirroring it to the file system.
type Persistence struct {
	*memory.Persistence

	root   string
	logger *slog.Logger
	mu     sync.Mutex
}

// NewPersistence loads every record found under root. The root may carry a
// file:// prefix.
func NewPersistence(logger *slog.Logger, root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	fp := &Persistence{
		root:   cleanRoot,
		logger: logger,
	}

	for _, dir := range []string{flowsDir, executionsDir} {
		if err := os.MkdirAll(path.Join(cleanRoot, dir), 0750); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	snapshot := memory.Snapshot{}

	if err := loadAll(cleanRoot, flowsDir, &snapshot.Flows); err != nil {
		return nil, err
	}

	if err := loadAll(cleanRoot, executionsDir, &snapshot.Executions); err != nil {
		return nil, err
	}

	fp.Persistence = memory.NewPersistence(memory.WithChangeHook(fp.flushOnChange))
	fp.Restore(snapshot)

	logger.Info("Loaded file persistence", "root", cleanRoot, "flows", len(snapshot.Flows), "executions", len(snapshot.Executions))

	return fp, nil
}

// HealthCheck checks that the root directory still exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close flushes the current state one last time.
func (fp *Persistence) Close(_ context.Context) error {
	return fp.Flush()
}

// Flush writes every record and removes files of records that no longer exist.
func (fp *Persistence) Flush() error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	snapshot := fp.Snapshot()

	flowIDs := make(map[string]bool, len(snapshot.Flows))
	for _, flow := range snapshot.Flows {
		flowIDs[flow.ID] = true

		if err := fp.write(flowsDir, flow.ID, flow); err != nil {
			return err
		}
	}

	executionIDs := make(map[string]bool, len(snapshot.Executions))
	for _, execution := range snapshot.Executions {
		executionIDs[execution.ID] = true

		if err := fp.write(executionsDir, execution.ID, execution); err != nil {
			return err
		}
	}

	if err := fp.prune(flowsDir, flowIDs); err != nil {
		return err
	}

	return fp.prune(executionsDir, executionIDs)
}

func (fp *Persistence) flushOnChange() {
	if err := fp.Flush(); err != nil {
		fp.logger.Error("Failed to flush file persistence", "root", fp.root, "error", err)
	}
}

func (fp *Persistence) write(dir, id string, record any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", dir, id, err)
	}

	filePath := filepath.Clean(path.Join(fp.root, dir, id+".json"))
	tmpPath := filePath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s %s: %w", dir, id, err)
	}

	return os.Rename(tmpPath, filePath)
}

func (fp *Persistence) prune(dir string, keep map[string]bool) error {
	files, err := fs.Glob(os.DirFS(path.Join(fp.root, dir)), "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s files: %w", dir, err)
	}

	for _, file := range files {
		if keep[strings.TrimSuffix(file, ".json")] {
			continue
		}

		err := os.Remove(path.Join(fp.root, dir, file))
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to delete %s %s: %w", dir, file, err)
		}
	}

	return nil
}

func loadAll[T models.Flow | models.Execution](root, dir string, into *[]*T) error {
	files, err := fs.Glob(os.DirFS(path.Join(root, dir)), "*.json")
	if err != nil {
		return fmt.Errorf("failed to list %s files: %w", dir, err)
	}

	for _, file := range files {
		body, err := os.ReadFile(filepath.Clean(path.Join(root, dir, file)))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", file, err)
		}

		var record T

		if err := json.Unmarshal(body, &record); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", file, err)
		}

		*into = append(*into, &record)
	}

	return nil
}
