package pgq

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// PGQ is the main entry point. It holds the configuration, the template cache
// and a pool of reusable *Builder instances.
// A single PGQ instance is safe for concurrent use.
type PGQ struct {
	config    Config
	templates *templateCache
	pool      sync.Pool
}

// Config defines limits and behavior tweaks for scanning and binding.
type Config struct {
	// Strict rejects any '$' not followed by a valid identifier start
	// (including "$1"-style integers) with ErrMalformedPlaceholder. When
	// false, such dollars pass through as literal text.
	Strict bool
	// MaxParams limits the number of distinct placeholders in one query.
	// If = 0 (or omitted), a sensible default is used.
	// If < 0, it's treated as "unlimited".
	MaxParams int
	// MaxNameLen limits the maximum allowed length of a placeholder name,
	// e.g. "$this_is_a_name". Names longer than this cause ErrParamNameTooLong.
	MaxNameLen int
	// TemplateCacheSize bounds the per-instance LRU of parsed templates.
	TemplateCacheSize int
}

// Args is a convenient alias for map[string]any to use with Bind().
type Args = map[string]any

// Execer abstracts *sql.DB / *sql.Tx ExecContext for easy testing.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Queryer abstracts *sql.DB / *sql.Tx QueryContext for easy testing.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	defaultMaxParams  = 65535 // Postgres wire-protocol limit
	defaultMaxNameLen = 64
	templateCacheSize = 1024
	specCacheSize     = 512
)

var (
	ErrMalformedPlaceholder = errors.New("pgq: malformed placeholder")
	ErrUnboundParam         = errors.New("pgq: unbound parameter")
	ErrUnknownBinding       = errors.New("pgq: unknown binding")
	ErrParamNameTooLong     = errors.New("pgq: parameter name too long")
	ErrTooManyParams        = errors.New("pgq: too many parameters")
	ErrAmbiguousField       = errors.New("pgq: ambiguous field name")
	ErrColumnNotFound       = errors.New("pgq: column not found")
	ErrConvert              = errors.New("pgq: cannot convert column value")
	ErrSplitColumnNotFound  = errors.New("pgq: split column not found")
	ErrSplitCountMismatch   = errors.New("pgq: split count mismatch")
	ErrInvalidSpec          = errors.New("pgq: invalid row spec")
	ErrInvalidDest          = errors.New("pgq: invalid destination")
	ErrBuilderFinished      = errors.New("pgq: builder already finished; call Write() on *PGQ for a new query")
	ErrMoreThanOneRow       = errors.New("pgq: more than one row")
)

// New returns a new PGQ. Optionally provide a Config; unspecified fields fall
// back to sensible defaults.
func New(cfg ...Config) *PGQ {
	s := &PGQ{config: defaultConfig(cfg...)}
	s.templates = newTemplateCache(s.config.TemplateCacheSize)
	s.pool.New = func() any {
		return &Builder{
			s:        s,
			table:    newParamTable(),
			bindings: make(Args, 8),
		}
	}
	return s
}

// Parse builds a Query from a statically-known template in one shot, binding
// every placeholder from args. It shares the scanner, parameter table and
// validation logic with the dynamic Builder path.
func (s *PGQ) Parse(template string, args Args) (*Query, error) {
	return s.Write(template).Bind(args).Finish()
}

// Write starts a new statement and returns a single-use Builder. Add more
// fragments via Write/Writef, bind values via Bind(), and call Finish().
func (s *PGQ) Write(sqlText string) *Builder {
	b := s.pool.Get().(*Builder)
	b.s = s
	b.finished = false
	b.err = nil
	b.sql.Reset()
	b.table.names = b.table.names[:0]
	clear(b.table.index)
	clear(b.bindings)
	if sqlText != "" {
		b.append(sqlText)
	}
	return b
}

// defaultConfig merges an optional user config with package defaults.
func defaultConfig(cfg ...Config) Config {
	c := Config{}
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.MaxParams == 0 {
		c.MaxParams = defaultMaxParams
	}
	if c.MaxNameLen <= 0 {
		c.MaxNameLen = defaultMaxNameLen
	}
	if c.TemplateCacheSize <= 0 {
		c.TemplateCacheSize = templateCacheSize
	}
	return c
}
