package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/r973356237/AlphaWorker/internal/cache"
	"github.com/r973356237/AlphaWorker/internal/logger"
)

// TestSuite bundles the shared fixtures a package test needs
type TestSuite struct {
	T       *testing.T
	Logger  logger.Logger
	Cache   cache.Cacher
	TempDir string
	Cleanup []func()
}

// NewTestSuite creates a test suite with a temp dir, a quiet logger and
// an in-memory cache
func NewTestSuite(t *testing.T) *TestSuite {
	tempDir, err := os.MkdirTemp("", "alphaworker_test_*")
	require.NoError(t, err)

	testLogger := logger.NewLogger(logger.Config{
		Level:  logger.LevelError,
		Format: logger.FormatText,
		Output: "stdout",
	})

	suite := &TestSuite{
		T:       t,
		Logger:  testLogger,
		Cache:   cache.NewMemoryCache(1000),
		TempDir: tempDir,
	}

	suite.AddCleanup(func() {
		os.RemoveAll(tempDir)
	})
	suite.AddCleanup(func() {
		suite.Cache.Close()
	})

	return suite
}

// AddCleanup registers a cleanup function, run in reverse order
func (s *TestSuite) AddCleanup(cleanup func()) {
	s.Cleanup = append(s.Cleanup, cleanup)
}

// TearDown runs all registered cleanup functions
func (s *TestSuite) TearDown() {
	for i := len(s.Cleanup) - 1; i >= 0; i-- {
		s.Cleanup[i]()
	}
}

// CreateTempFile writes content into the suite temp dir and returns the path
func (s *TestSuite) CreateTempFile(name, content string) string {
	path := filepath.Join(s.TempDir, name)
	require.NoError(s.T, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(s.T, os.WriteFile(path, []byte(content), 0644))
	return path
}

// ReadTempFile reads a file from the suite temp dir
func (s *TestSuite) ReadTempFile(name string) string {
	data, err := os.ReadFile(filepath.Join(s.TempDir, name))
	require.NoError(s.T, err)
	return string(data)
}
