// Package spool keeps transaction batches on disk while the store is unavailable.
package spool

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

const (
	segmentPrefix = "spool-"
	segmentSuffix = ".jsonl"
	filePerm      = 0o644
	maxLineBytes  = 8 << 20
)

// ErrFull is returned when a write would exceed the configured disk budget.
var ErrFull = errors.New("spool is full")

// Spool implements domain.SpoolRepository as a directory of append-only
// JSON-lines segments. Segment names carry a sequence number, so replay
// order equals write order across restarts.
type Spool struct {
	dir            string
	maxSegmentSize int64
	maxTotalSize   int64
	logger         *slog.Logger
	metrics        *metrics.Metrics

	mu        sync.Mutex
	current   *os.File
	curSize   int64
	totalSize int64
	nextSeq   uint64
}

// New opens or creates the spool in dir. m may be nil.
func New(dir string, maxSegmentSize, maxTotalSize int64, logger *slog.Logger, m *metrics.Metrics) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spool directory %s: %w", dir, err)
	}

	s := &Spool{
		dir:            dir,
		maxSegmentSize: maxSegmentSize,
		maxTotalSize:   maxTotalSize,
		logger:         logger.With("component", "spool"),
		metrics:        m,
	}

	segments, err := s.segments()
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		info, err := os.Stat(seg.path)
		if err != nil {
			return nil, fmt.Errorf("stat spool segment %s: %w", seg.path, err)
		}
		s.totalSize += info.Size()
		if seg.seq >= s.nextSeq {
			s.nextSeq = seg.seq + 1
		}
	}
	if s.totalSize > 0 {
		s.logger.Warn("spool holds batches from a previous run", "segments", len(segments), "bytes", s.totalSize)
	}
	s.setGauge()
	return s, nil
}

// Write appends rec and syncs it to disk.
func (s *Spool) Write(ctx context.Context, rec domain.SpoolRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal spool record: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.totalSize+int64(len(data)) > s.maxTotalSize {
		return fmt.Errorf("%w (%d bytes used of %d)", ErrFull, s.totalSize, s.maxTotalSize)
	}

	if s.current == nil || s.curSize >= s.maxSegmentSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}

	n, err := s.current.Write(data)
	s.curSize += int64(n)
	s.totalSize += int64(n)
	if err != nil {
		return fmt.Errorf("write spool segment: %w", err)
	}
	if err := s.current.Sync(); err != nil {
		return fmt.Errorf("sync spool segment: %w", err)
	}

	s.setGauge()
	s.logger.Info("spooled batch", "tenant", rec.TenantKey, "transactions", len(rec.Transactions))
	return nil
}

// Replay hands every spooled record to handler in write order and stops at the
// first handler error. Lines that cannot be decoded are skipped.
func (s *Spool) Replay(ctx context.Context, handler func(rec domain.SpoolRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return nil
	}
	s.logger.Info("replaying spool", "segments", len(segments))

	for _, seg := range segments {
		if err := s.replaySegment(ctx, seg.path, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Spool) replaySegment(ctx context.Context, path string, handler func(rec domain.SpoolRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open spool segment %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var rec domain.SpoolRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			s.logger.Warn("skipping unreadable spool line", "segment", filepath.Base(path), "error", err)
			continue
		}
		if err := handler(rec); err != nil {
			return fmt.Errorf("replay spool record: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan spool segment %s: %w", path, err)
	}
	return nil
}

// Truncate deletes every segment.
func (s *Spool) Truncate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeCurrent()

	segments, err := s.segments()
	if err != nil {
		return err
	}
	var errs []error
	for _, seg := range segments {
		if err := os.Remove(seg.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("truncate spool: %w", errors.Join(errs...))
	}

	s.totalSize = 0
	s.setGauge()
	s.logger.Info("spool truncated", "segments", len(segments))
	return nil
}

// Pending reports whether any spooled bytes remain.
func (s *Spool) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize > 0
}

// Close closes the open segment.
func (s *Spool) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	err := s.current.Close()
	s.current = nil
	return err
}

func (s *Spool) rotate() error {
	s.closeCurrent()

	path := filepath.Join(s.dir, fmt.Sprintf("%s%020d%s", segmentPrefix, s.nextSeq, segmentSuffix))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create spool segment %s: %w", path, err)
	}
	s.nextSeq++
	s.current = f
	s.curSize = 0
	return nil
}

func (s *Spool) closeCurrent() {
	if s.current == nil {
		return
	}
	if err := s.current.Close(); err != nil {
		s.logger.Error("failed to close spool segment", "error", err)
	}
	s.current = nil
}

type segment struct {
	path string
	seq  uint64
}

func (s *Spool) segments() ([]segment, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read spool directory: %w", err)
	}

	var out []segment
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, segmentPrefix) || !strings.HasSuffix(name, segmentSuffix) {
			continue
		}
		var seq uint64
		if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(name, segmentPrefix), segmentSuffix), "%d", &seq); err != nil {
			continue
		}
		out = append(out, segment{path: filepath.Join(s.dir, name), seq: seq})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out, nil
}

func (s *Spool) setGauge() {
	if s.metrics == nil {
		return
	}
	if s.totalSize > 0 {
		s.metrics.SpoolActive.Set(1)
	} else {
		s.metrics.SpoolActive.Set(0)
	}
}
