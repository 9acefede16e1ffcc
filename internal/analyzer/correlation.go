package analyzer

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/r973356237/AlphaWorker/internal/brain"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/logger"
	"github.com/r973356237/AlphaWorker/internal/store"
)

// CorrelationClient is the API surface the correlation sweep needs
type CorrelationClient interface {
	Authenticate(ctx context.Context) error
	CheckSelfCorrelation(ctx context.Context, alphaID string) (*brain.CorrelationCheck, error)
}

// CorrelationSweep runs the self-correlation check for every alpha in a
// markdown watch list and logs the verdicts to a dated CSV.
type CorrelationSweep struct {
	client   CorrelationClient
	store    *store.Store
	interval time.Duration
	log      logger.Logger
}

func NewCorrelationSweep(client CorrelationClient, st *store.Store, interval time.Duration, log logger.Logger) *CorrelationSweep {
	if interval <= 0 {
		interval = time.Second
	}
	return &CorrelationSweep{
		client:   client,
		store:    st,
		interval: interval,
		log:      log,
	}
}

var alphaIDPattern = regexp.MustCompile(`^\|?\s*([A-Za-z0-9]{6,})\s*[|\s]`)

// ExtractAlphaIDs pulls alpha IDs from the first column of a markdown
// watch-list table, skipping the header and separator rows.
func ExtractAlphaIDs(r io.Reader) ([]string, error) {
	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "grade") || strings.Contains(line, "---") {
			continue
		}
		m := alphaIDPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		id := m[1]
		if strings.EqualFold(id, "id") || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCSVRead, "failed to read watch list")
	}
	return ids, nil
}

// Run checks every ID in the watch list, pacing requests by the sweep
// interval. Check failures are recorded, not fatal; only context
// cancellation stops the sweep early.
func (s *CorrelationSweep) Run(ctx context.Context, watchList io.Reader) error {
	ids, err := ExtractAlphaIDs(watchList)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return apperrors.NewAppError(apperrors.ErrCodeNotFound, "no alpha IDs found in watch list", nil)
	}

	if err := s.client.Authenticate(ctx); err != nil {
		return err
	}

	s.log.Info("starting self-correlation sweep", "alphas", len(ids))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		check, err := s.client.CheckSelfCorrelation(ctx, id)
		now := time.Now()
		if err != nil {
			result := "FAIL"
			if appErr := apperrors.GetAppError(err); appErr != nil && appErr.Code == apperrors.ErrCodeNotFound {
				// Check completed but carried no self-correlation entry
				result = "UNKNOWN"
			}
			s.log.Warn("correlation check failed", "alpha_id", id, "result", result, "error", err)
			if werr := s.store.AppendCorrelation(&brain.CorrelationCheck{AlphaID: id, Result: result}, err.Error(), now); werr != nil {
				return werr
			}
		} else {
			s.log.Info("correlation check done",
				"alpha_id", id, "result", check.Result, "value", check.Value, "limit", check.Limit)
			if werr := s.store.AppendCorrelation(check, "", now); werr != nil {
				return werr
			}
		}

		if i < len(ids)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.interval):
			}
		}
	}

	s.log.Info("self-correlation sweep finished", "alphas", len(ids))
	return nil
}
