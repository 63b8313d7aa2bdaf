package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/amirphl/split-trader/internal/utils"
)

// ErrVerifyFailed is returned when a freshly written ledger file does not
// parse back as a ledger list.
var ErrVerifyFailed = errors.New("ledger file verification failed")

// Store persists the ledgers of one strategy instance as a single JSON
// document. Save never leaves a truncated main file behind.
type Store struct {
	Path      string
	Retention time.Duration
	Clock     utils.Clock

	mu     sync.Mutex
	rename func(oldpath, newpath string) error
}

func NewStore(path string, retention time.Duration, clock utils.Clock) *Store {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &Store{Path: path, Retention: retention, Clock: clock, rename: os.Rename}
}

func (s *Store) BackupPath() string { return s.Path + ".backup" }

// Load reads every persisted ledger. A missing file yields an empty list.
func (s *Store) Load() ([]*InstrumentLedger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*InstrumentLedger{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger file %s: %w", s.Path, err)
	}
	out, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ledger file %s: %w", s.Path, err)
	}
	return out, nil
}

// Save writes ledgers to a temp file, verifies it parses back, and renames it
// over the main file. The previous main file is kept at BackupPath and put
// back if any step fails.
func (s *Store) Save(ledgers []*InstrumentLedger) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ledgers == nil {
		ledgers = []*InstrumentLedger{}
	}
	data, err := json.MarshalIndent(ledgers, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledgers: %w", err)
	}

	hasBackup := false
	if _, statErr := os.Stat(s.Path); statErr == nil {
		if cpErr := copyFile(s.Path, s.BackupPath()); cpErr != nil {
			log.Printf("Ledger | Backup of %s failed: %v", s.Path, cpErr)
		} else {
			hasBackup = true
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.Path), filepath.Base(s.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if err == nil {
			return
		}
		os.Remove(tmpPath)
		if hasBackup && !s.mainIsValid() {
			if rbErr := copyFile(s.BackupPath(), s.Path); rbErr != nil {
				log.Printf("Ledger | Restore from backup failed: %v", rbErr)
			} else {
				log.Printf("Ledger | Restored %s from backup after failed save", s.Path)
			}
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp ledger file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}
	if err = verifyFile(tmpPath); err != nil {
		return err
	}
	if err = s.rename(tmpPath, s.Path); err != nil {
		return fmt.Errorf("failed to replace ledger file: %w", err)
	}
	if err = verifyFile(s.Path); err != nil {
		return err
	}

	s.pruneBackup()
	return nil
}

func (s *Store) mainIsValid() bool {
	return verifyFile(s.Path) == nil
}

func (s *Store) pruneBackup() {
	info, err := os.Stat(s.BackupPath())
	if err != nil {
		return
	}
	if s.Clock.Now().Sub(info.ModTime()) > s.Retention {
		if err := os.Remove(s.BackupPath()); err == nil {
			log.Printf("Ledger | Removed stale backup %s", s.BackupPath())
		}
	}
}

func decode(data []byte) ([]*InstrumentLedger, error) {
	var out []*InstrumentLedger
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("document is not a ledger list")
	}
	return out, nil
}

func verifyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyFailed, err)
	}
	if _, err := decode(data); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrVerifyFailed, path, err)
	}
	return nil
}

// copyFile copies src to dst and carries over the modification time, so the
// backup ages from when the copied state was written.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
