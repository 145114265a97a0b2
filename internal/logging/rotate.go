package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotatingSink is a zapcore.WriteSyncer that rolls the log file on two
// conditions: the calendar day changing, and the line count reaching
// maxLines. The current date is held explicitly as (year, month, day) so a
// roll at month or year boundaries compares correctly.
type rotatingSink struct {
	mu       sync.Mutex
	dir      string
	maxLines int

	year  int
	month time.Month
	day   int
	seq   int
	lines int
	f     *os.File
}

func newRotatingSink(dir string, maxLines int) (*rotatingSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &rotatingSink{dir: dir, maxLines: maxLines}
	now := time.Now()
	s.year, s.month, s.day = now.Date()
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rotatingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	y, m, d := time.Now().Date()
	if y != s.year || m != s.month || d != s.day {
		s.year, s.month, s.day = y, m, d
		s.seq = 0
		s.lines = 0
		if err := s.open(); err != nil {
			return 0, err
		}
	} else if s.lines >= s.maxLines {
		s.seq++
		s.lines = 0
		if err := s.open(); err != nil {
			return 0, err
		}
	}

	n, err := s.f.Write(p)
	s.lines += bytes.Count(p[:n], []byte{'\n'})
	return n, err
}

func (s *rotatingSink) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	return s.f.Sync()
}

// open closes the previous file and opens the one named by the current
// date and chunk sequence.
func (s *rotatingSink) open() error {
	if s.f != nil {
		s.f.Close()
	}
	name := fmt.Sprintf("%04d_%02d_%02d", s.year, int(s.month), s.day)
	if s.seq > 0 {
		name = fmt.Sprintf("%s-%d", name, s.seq)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	s.f = f
	return nil
}
