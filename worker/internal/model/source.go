package model

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/oceanlab/specimen-stack/common/failure"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/models"
)

// Source loads the model lazily and keeps it current. Until a model has been
// loaded every Classify call fails with an Unavailable error, so messages are
// requeued rather than lost. Load attempts and change checks are throttled to
// one per interval.
type Source struct {
	path     string
	interval time.Duration
	logger   *logging.Logger
	now      func() time.Time

	mu          sync.Mutex
	model       *Model
	modTime     time.Time
	lastAttempt time.Time
	lastErr     error
}

// NewSource returns a Source reading path. An empty path serves the embedded model.
func NewSource(path string, interval time.Duration, logger *logging.Logger) *Source {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Source{
		path:     path,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
	if path == "" {
		s.model = Default()
	}
	return s
}

// Classify classifies features with the current model.
func (s *Source) Classify(features models.Morphometrics) (string, error) {
	m, err := s.current()
	if err != nil {
		return "", failure.Unavailable(fmt.Errorf("%w: %w", ErrModelUnavailable, err))
	}
	return m.Classify(features)
}

// Ready reports whether a model is loaded.
func (s *Source) Ready() bool {
	_, err := s.current()
	return err == nil
}

func (s *Source) current() (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.model, nil
	}

	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.interval {
		if s.model != nil {
			return s.model, nil
		}
		return nil, s.lastErr
	}
	s.lastAttempt = now

	if err := s.reloadLocked(); err != nil {
		s.lastErr = err
		if s.model != nil {
			s.logger.Warn("model reload failed, keeping current model",
				logging.Component("model"), logging.Error(err))
			return s.model, nil
		}
		return nil, err
	}
	return s.model, nil
}

func (s *Source) reloadLocked() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat model: %w", err)
	}
	if s.model != nil && info.ModTime().Equal(s.modTime) {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	m, err := Parse(data)
	if err != nil {
		return err
	}

	s.model = m
	s.modTime = info.ModTime()
	s.lastErr = nil
	s.logger.Info("classification model loaded",
		logging.Component("model"),
		"path", s.path,
		"name", m.Name,
		"version", m.Version,
		"classes", len(m.Classes))
	return nil
}
