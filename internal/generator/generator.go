package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/r973356237/AlphaWorker/internal/brain"
	"github.com/r973356237/AlphaWorker/internal/cache"
	"github.com/r973356237/AlphaWorker/internal/config"
	apperrors "github.com/r973356237/AlphaWorker/internal/errors"
	"github.com/r973356237/AlphaWorker/internal/logger"
	"github.com/r973356237/AlphaWorker/internal/monitor"
	"github.com/r973356237/AlphaWorker/internal/store"
)

// CatalogClient is the slice of the BRAIN client the generator needs
type CatalogClient interface {
	ListDataFields(ctx context.Context, scope brain.SearchScope, datasetID, search string) ([]brain.DataField, error)
}

// Expression is one rendered alpha expression with its neutralization group
type Expression struct {
	Code  string
	Group string
}

// Generator expands the template set over the data-field catalog and
// writes the resulting simulation requests to the pending queue
type Generator struct {
	client   CatalogClient
	catalog  cache.Cacher
	cacheTTL time.Duration
	cfg      config.GeneratorConfig
	store    *store.Store
	metrics  *monitor.Collector
	log      logger.Logger
}

// New creates a generator
func New(client CatalogClient, catalog cache.Cacher, cacheTTL time.Duration,
	cfg config.GeneratorConfig, st *store.Store, metrics *monitor.Collector, log logger.Logger) *Generator {
	return &Generator{
		client:   client,
		catalog:  catalog,
		cacheTTL: cacheTTL,
		cfg:      cfg,
		store:    st,
		metrics:  metrics,
		log:      log.WithField("component", "generator"),
	}
}

// Run fetches the catalog, expands the templates and writes the
// pending queue. It returns the number of alphas generated.
func (g *Generator) Run(ctx context.Context) (int, error) {
	fields, err := g.catalogFields(ctx)
	if err != nil {
		return 0, err
	}

	matrixIDs := MatrixFieldIDs(fields)
	if len(matrixIDs) == 0 {
		return 0, apperrors.NewAppError(apperrors.ErrCodeCatalogEmpty,
			fmt.Sprintf("no MATRIX data fields in dataset %s", g.cfg.Dataset), nil)
	}
	g.log.Info("Found MATRIX data fields", "count", len(matrixIDs), "dataset", g.cfg.Dataset)

	expressions := Expand(g.cfg.Templates, g.cfg.BaseFields, matrixIDs, g.cfg.Groups)
	if len(expressions) == 0 {
		return 0, apperrors.NewAppError(apperrors.ErrCodeTemplateInvalid,
			"template expansion produced no expressions", nil)
	}

	records := make([]store.Record, 0, len(expressions))
	for _, expr := range expressions {
		records = append(records, store.Record{
			Type:     "REGULAR",
			Settings: brain.DefaultSettings(expr.Group),
			Regular:  expr.Code,
		})
	}

	if err := g.store.WritePending(records); err != nil {
		return 0, err
	}

	g.metrics.ExpressionsGenerated.Add(float64(len(records)))
	g.log.Info("Wrote pending queue",
		"alphas", len(records), "path", g.store.PendingPath())
	return len(records), nil
}

// catalogFields loads the data-field catalog, preferring the cache so
// repeated generation runs do not re-walk the paged endpoint
func (g *Generator) catalogFields(ctx context.Context) ([]brain.DataField, error) {
	scope := brain.SearchScope{
		InstrumentType: g.cfg.InstrumentType,
		Region:         g.cfg.Region,
		Delay:          g.cfg.Delay,
		Universe:       g.cfg.Universe,
	}
	key := fmt.Sprintf("datafields:%s:%s:%s:%d:%s",
		g.cfg.Dataset, scope.InstrumentType, scope.Region, scope.Delay, scope.Universe)

	if cached, err := g.catalog.Get(ctx, key); err == nil {
		var fields []brain.DataField
		if err := json.Unmarshal(cached, &fields); err == nil {
			g.log.Debug("Data-field catalog served from cache", "count", len(fields))
			return fields, nil
		}
	}

	fields, err := g.client.ListDataFields(ctx, scope, g.cfg.Dataset, "")
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(fields); err == nil {
		if err := g.catalog.Set(ctx, key, data, g.cacheTTL); err != nil {
			g.log.Warn("Failed to cache data-field catalog", "error", err)
		}
	}
	return fields, nil
}

// MatrixFieldIDs filters the catalog down to MATRIX-type field ids
func MatrixFieldIDs(fields []brain.DataField) []string {
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Type == "MATRIX" {
			ids = append(ids, f.ID)
		}
	}
	return ids
}

// Expand renders every template against the cross product of base
// fields, catalog fields and neutralization groups. Templates that do
// not use a placeholder skip the corresponding loop dimension.
func Expand(templates, baseFields, catalogFields, groups []string) []Expression {
	var expressions []Expression
	for _, tmpl := range templates {
		bases := baseFields
		if !strings.Contains(tmpl, "{base}") {
			bases = []string{""}
		}
		fields := catalogFields
		if !strings.Contains(tmpl, "{field}") {
			fields = []string{""}
		}

		for _, group := range groups {
			for _, base := range bases {
				for _, field := range fields {
					code := strings.NewReplacer(
						"{base}", base,
						"{field}", field,
					).Replace(tmpl)
					expressions = append(expressions, Expression{Code: code, Group: group})
				}
			}
		}
	}
	return expressions
}
