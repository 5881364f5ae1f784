package infer

import (
	"log/slog"

	"fintable/pkg/core/classify"
	"fintable/pkg/models"
)

// Invalidation reasons reported by Check and counted in CacheStats.
const (
	ReasonColumnCount      = "column_count"
	ReasonCurrentNotAmount = "current_not_amount"
	ReasonFootnoteShape    = "footnote_not_marker"
	ReasonPageBreak        = "page_break"
	ReasonRecommitted      = "recommitted"
)

// Check validates row against a cached pattern and explains a failure.
//
// The pattern fails when the column count differs, when the cell under the
// cached current-period column is non-blank and not an amount, or when the cell
// under the cached footnote column is non-blank and not a footnote marker.
func Check(row models.Row, cached models.CachedPattern) (bool, string) {
	if row.Len() != cached.Columns {
		return false, ReasonColumnCount
	}
	if idx, ok := cached.Schema.Index(models.RoleCurrent); ok {
		text := row.Cell(idx)
		if !classify.IsBlank(text) && !classify.IsAmount(text) {
			return false, ReasonCurrentNotAmount
		}
	}
	if idx, ok := cached.Schema.Index(models.RoleFootnote); ok {
		text := row.Cell(idx)
		if !classify.IsBlank(text) && !classify.IsFootnoteMarker(text) {
			return false, ReasonFootnoteShape
		}
	}
	return true, ""
}

// Validate is Check without the reason.
func Validate(row models.Row, cached models.CachedPattern) bool {
	ok, _ := Check(row, cached)
	return ok
}

// CacheStats counts cache outcomes over one statement parse.
type CacheStats struct {
	Hits          int            `json:"hits"`
	Misses        int            `json:"misses"`
	Commits       int            `json:"commits"`
	Invalidations map[string]int `json:"invalidations"`
}

// Cache keeps the last committed pattern of one statement parse.
// It is not safe for concurrent use; each parse owns its own Cache.
type Cache struct {
	pattern *models.CachedPattern
	stats   CacheStats
	logger  *slog.Logger
}

// NewCache returns an empty cache.
func NewCache(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		stats:  CacheStats{Invalidations: make(map[string]int)},
		logger: logger.With("component", "schema_cache"),
	}
}

// Pattern returns the cached pattern, if any.
func (c *Cache) Pattern() (models.CachedPattern, bool) {
	if c.pattern == nil {
		return models.CachedPattern{}, false
	}
	return models.CachedPattern{Schema: c.pattern.Schema.Clone(), Columns: c.pattern.Columns}, true
}

// Lookup returns the cached schema when it still fits row. A failed check
// discards the pattern so the next row is inferred from scratch.
func (c *Cache) Lookup(row models.Row) (models.RowSchema, bool) {
	if c.pattern == nil {
		c.stats.Misses++
		return models.RowSchema{}, false
	}
	ok, reason := Check(row, *c.pattern)
	if !ok {
		c.stats.Misses++
		c.Invalidate(row, reason)
		return models.RowSchema{}, false
	}
	c.stats.Hits++
	return c.pattern.Schema.Clone(), true
}

// Commit stores schema as the pattern for rows of the same width.
func (c *Cache) Commit(schema models.RowSchema) {
	if c.pattern != nil && !c.pattern.Schema.Equal(schema) {
		c.stats.Invalidations[ReasonRecommitted]++
	}
	c.pattern = &models.CachedPattern{Schema: schema.Clone(), Columns: schema.Columns}
	c.stats.Commits++
	c.logger.Debug("cache.commit", "schema", schema.String(), "columns", schema.Columns, "provenance", schema.Provenance)
}

// Invalidate drops the pattern.
func (c *Cache) Invalidate(row models.Row, reason string) {
	if c.pattern == nil {
		return
	}
	c.logger.Debug("cache.invalidate",
		"page", row.Page, "line", row.Line, "reason", reason,
		"cached_columns", c.pattern.Columns, "row_columns", row.Len())
	c.stats.Invalidations[reason]++
	c.pattern = nil
}

// Stats returns a copy of the counters.
func (c *Cache) Stats() CacheStats {
	out := c.stats
	out.Invalidations = make(map[string]int, len(c.stats.Invalidations))
	for k, v := range c.stats.Invalidations {
		out.Invalidations[k] = v
	}
	return out
}
