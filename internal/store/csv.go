package store

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
)

// Record is one row of the pending-simulation queue
type Record struct {
	Type     string
	Settings brain.SimulationSettings
	Regular  string
}

// Request converts a queue record back into a simulation request
func (r Record) Request() *brain.SimulationRequest {
	return &brain.SimulationRequest{
		Type:     r.Type,
		Settings: r.Settings,
		Regular:  r.Regular,
	}
}

var pendingHeader = []string{"type", "settings", "regular"}

var resultHeader = []string{
	"id", "status", "grade", "fitness", "sharpe", "returns",
	"turnover", "margin", "drawdown", "fail_count", "raw",
}

var correlationHeader = []string{
	"alpha_id", "result", "correlation_value", "limit", "timestamp", "error",
}

// Store persists the queue and result logs as CSV flat files, so an
// interrupted run picks up where it left off.
type Store struct {
	dir          string
	pendingPath  string
	simQueuePath string
	failPath     string
	resultPrefix string
}

// New creates a store rooted at cfg.Dir
func New(cfg config.FilesConfig) *Store {
	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	return &Store{
		dir:          dir,
		pendingPath:  filepath.Join(dir, cfg.PendingCSV),
		simQueuePath: filepath.Join(dir, cfg.SimQueueCSV),
		failPath:     filepath.Join(dir, cfg.FailCSV),
		resultPrefix: cfg.ResultPrefix,
	}
}

// PendingPath returns the pending queue file location
func (s *Store) PendingPath() string { return s.pendingPath }

// ResultPath returns the dated result log for a point in time
func (s *Store) ResultPath(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%s.csv", s.resultPrefix, t.Format("20060102")))
}

// CorrelationPath returns the dated correlation result log
func (s *Store) CorrelationPath(t time.Time) string {
	return filepath.Join(s.dir, fmt.Sprintf("self_correlation_results_%s.csv", t.Format("20060102")))
}

// WritePending replaces the pending queue with the given records
func (s *Store) WritePending(records []Record) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to create data directory")
	}

	f, err := os.Create(s.pendingPath)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to create pending file")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(pendingHeader); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to write header")
	}
	for _, rec := range records {
		if err := w.Write(recordRow(rec)); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to write record")
		}
	}
	w.Flush()
	return w.Error()
}

// PopBatch removes up to n records from the head of the pending queue.
// The remainder is rewritten through a temp file and an atomic rename,
// and the popped batch is mirrored to the sim-queue file so operators
// can see what is about to be submitted. A missing pending file means
// an empty queue.
func (s *Store) PopBatch(n int) ([]Record, error) {
	all, err := s.readPending()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVRead, "failed to read pending queue")
	}
	if len(all) == 0 {
		return nil, nil
	}

	if n > len(all) {
		n = len(all)
	}
	batch, rest := all[:n], all[n:]

	tmpPath := s.pendingPath + ".tmp"
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to create temp file")
	}

	w := csv.NewWriter(tmp)
	writeErr := w.Write(pendingHeader)
	for _, rec := range rest {
		if writeErr != nil {
			break
		}
		writeErr = w.Write(recordRow(rec))
	}
	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if closeErr := tmp.Close(); writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tmpPath)
		return nil, apperrors.WrapError(writeErr, apperrors.ErrCodeCSVWrite, "failed to rewrite pending queue")
	}

	if err := os.Rename(tmpPath, s.pendingPath); err != nil {
		os.Remove(tmpPath)
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to replace pending queue")
	}

	if err := s.writeSimQueue(batch); err != nil {
		// Monitoring mirror only; the pop already happened
		return batch, nil
	}
	return batch, nil
}

// PendingCount reports how many records wait in the queue
func (s *Store) PendingCount() (int, error) {
	all, err := s.readPending()
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, apperrors.WrapError(err, apperrors.ErrCodeCSVRead, "failed to read pending queue")
	}
	return len(all), nil
}

// AppendFailure appends a record to the failure log
func (s *Store) AppendFailure(rec Record) error {
	return s.appendRow(s.failPath, pendingHeader, recordRow(rec))
}

// AppendResult appends a finished alpha to the dated result log. The
// full response body is kept in the raw column; the headline metrics
// are flattened for quick filtering.
func (s *Store) AppendResult(alpha *brain.Alpha, now time.Time) error {
	row := []string{
		alpha.ID,
		alpha.Status,
		alpha.Grade,
		"", "", "", "", "", "",
		strconv.Itoa(alpha.FailCount()),
		string(alpha.Raw),
	}
	if alpha.IS != nil {
		row[3] = formatFloat(alpha.IS.Fitness)
		row[4] = formatFloat(alpha.IS.Sharpe)
		row[5] = formatFloat(alpha.IS.Returns)
		row[6] = formatFloat(alpha.IS.Turnover)
		row[7] = formatFloat(alpha.IS.Margin)
		row[8] = formatFloat(alpha.IS.Drawdown)
	}
	return s.appendRow(s.ResultPath(now), resultHeader, row)
}

// AppendCorrelation appends a correlation check outcome
func (s *Store) AppendCorrelation(check *brain.CorrelationCheck, checkErr string, now time.Time) error {
	row := []string{
		check.AlphaID,
		check.Result,
		formatFloat(check.Value),
		formatFloat(check.Limit),
		now.Format("2006-01-02 15:04:05"),
		checkErr,
	}
	return s.appendRow(s.CorrelationPath(now), correlationHeader, row)
}

// ReadResults loads a result log back into alphas, parsing the raw column
func (s *Store) ReadResults(path string) ([]brain.Alpha, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVRead, "failed to open result file")
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVRead, "failed to read result file")
	}
	if len(rows) < 2 {
		return nil, nil
	}

	rawIdx := len(resultHeader) - 1
	alphas := make([]brain.Alpha, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= rawIdx {
			continue
		}
		var alpha brain.Alpha
		if err := json.Unmarshal([]byte(row[rawIdx]), &alpha); err != nil {
			continue
		}
		alpha.Raw = json.RawMessage(row[rawIdx])
		alphas = append(alphas, alpha)
	}
	return alphas, nil
}

// LatestResultFile finds the newest dated result log in the data dir
func (s *Store) LatestResultFile() (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.resultPrefix+"*.csv"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", apperrors.NewAppError(apperrors.ErrCodeNotFound,
			fmt.Sprintf("no %s*.csv files found in %s", s.resultPrefix, s.dir), nil)
	}
	// Dated suffixes sort chronologically
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// readPending parses the pending CSV into records
func (s *Store) readPending() ([]Record, error) {
	f, err := os.Open(s.pendingPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}

	records := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) < 3 {
			continue
		}
		rec := Record{Type: row[0], Regular: row[2]}
		if err := json.Unmarshal([]byte(row[1]), &rec.Settings); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// writeSimQueue overwrites the monitoring mirror with the current batch
func (s *Store) writeSimQueue(batch []Record) error {
	f, err := os.Create(s.simQueuePath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(pendingHeader); err != nil {
		return err
	}
	for _, rec := range batch {
		if err := w.Write(recordRow(rec)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// appendRow appends one row to path, writing the header first when the
// file is new or empty
func (s *Store) appendRow(path string, header, row []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to create data directory")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to open "+path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to stat "+path)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(header); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to write header")
		}
	}
	if err := w.Write(row); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeCSVWrite, "failed to write row")
	}
	w.Flush()
	return w.Error()
}

func recordRow(rec Record) []string {
	settings, _ := json.Marshal(rec.Settings)
	return []string{rec.Type, string(settings), rec.Regular}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
