package db

import (
	"context"
	"database/sql"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/katasec/dstream-sync/internal/config"
	"github.com/katasec/dstream-sync/internal/logging"
	"github.com/katasec/dstream-sync/pkg/cdc"
)

// OpenFunc opens a verified connection pool.
type OpenFunc func(ctx context.Context, driver, dsn string, maxOpenConns int) (*sql.DB, error)

// endpoint is one side of a schema. Its pool is opened and its dialect detected
// on first use; later callers read the memoized values.
type endpoint struct {
	ds config.DataSource

	mu       sync.Mutex
	db       *sql.DB
	detected bool
	dialect  Dialect
	product  string
}

type endpointKey struct {
	schema string
	side   cdc.Side
}

// Router resolves a logical schema to its source and target databases.
// It is safe for concurrent use; the set of schemas is fixed at construction.
type Router struct {
	order     []string
	endpoints map[endpointKey]*endpoint
	open      OpenFunc
	log       hclog.Logger
}

// RouterOption customises a Router.
type RouterOption func(*Router)

// WithOpenFunc replaces the pool opener.
func WithOpenFunc(open OpenFunc) RouterOption {
	return func(r *Router) { r.open = open }
}

// WithRouterLogger sets the logger.
func WithRouterLogger(l hclog.Logger) RouterOption {
	return func(r *Router) { r.log = l }
}

// NewRouter builds a router over the configured schemas. No connection is opened yet.
func NewRouter(schemas []config.SchemaConfig, opts ...RouterOption) *Router {
	r := &Router{
		endpoints: make(map[endpointKey]*endpoint, 2*len(schemas)),
		open:      Open,
		log:       logging.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, s := range schemas {
		r.order = append(r.order, s.Name)
		r.endpoints[endpointKey{s.Name, cdc.Source}] = &endpoint{ds: s.Source}
		r.endpoints[endpointKey{s.Name, cdc.Target}] = &endpoint{ds: s.Target}
	}
	return r
}

// Schemas returns the schema names in configuration order.
func (r *Router) Schemas() []string {
	return append([]string(nil), r.order...)
}

func (r *Router) endpoint(schema string, side cdc.Side) (*endpoint, error) {
	ep, ok := r.endpoints[endpointKey{schema, side}]
	if !ok {
		return nil, errors.Errorf("schema %q is not configured", schema)
	}
	return ep, nil
}

func (r *Router) pool(ctx context.Context, ep *endpoint) (*sql.DB, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	if ep.db != nil {
		return ep.db, nil
	}
	db, err := r.open(ctx, ep.ds.Driver, ep.ds.DSN, ep.ds.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	ep.db = db
	return db, nil
}

// Conn checks out a dedicated connection to one side of a schema.
// The caller must Close it; that returns it to the pool.
func (r *Router) Conn(ctx context.Context, schema string, side cdc.Side) (*sql.Conn, error) {
	ep, err := r.endpoint(schema, side)
	if err != nil {
		return nil, cdc.ConnectionError(schema, "", string(side)+" connection", err)
	}
	db, err := r.pool(ctx, ep)
	if err != nil {
		return nil, cdc.ConnectionError(schema, "", "open "+string(side), err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, cdc.ConnectionError(schema, "", "acquire "+string(side)+" connection", err)
	}
	return conn, nil
}

// Dialect returns the SQL dialect of one side of a schema. It is detected from
// the live connection once; a failed detection is retried by the next caller.
func (r *Router) Dialect(ctx context.Context, schema string, side cdc.Side) (Dialect, error) {
	ep, err := r.endpoint(schema, side)
	if err != nil {
		return Unknown, cdc.ConnectionError(schema, "", string(side)+" dialect", err)
	}

	ep.mu.Lock()
	if ep.detected {
		d := ep.dialect
		ep.mu.Unlock()
		return d, nil
	}
	ep.mu.Unlock()

	conn, err := r.Conn(ctx, schema, side)
	if err != nil {
		return Unknown, err
	}
	defer conn.Close()

	d, product := DetectDialect(ctx, conn, ep.ds.Driver)
	if d == Unknown {
		return Unknown, cdc.UnsupportedDialectError(schema, side, product)
	}

	ep.mu.Lock()
	if !ep.detected {
		ep.detected, ep.dialect, ep.product = true, d, product
		r.log.Info("Detected dialect", "schema", schema, "side", side, "dialect", d, "product", product)
	}
	d = ep.dialect
	ep.mu.Unlock()
	return d, nil
}

// Close closes every pool opened so far.
func (r *Router) Close() error {
	var first error
	for key, ep := range r.endpoints {
		ep.mu.Lock()
		if ep.db != nil {
			if err := ep.db.Close(); err != nil && first == nil {
				first = errors.Wrapf(err, "close %s %s", key.schema, key.side)
			}
			ep.db = nil
		}
		ep.mu.Unlock()
	}
	return first
}
