package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/internal/config"
	"github.com/leapstack-labs/gridsql/internal/metrics"
	"github.com/leapstack-labs/gridsql/internal/state"
	"github.com/leapstack-labs/gridsql/pkg/adapter"
	"github.com/leapstack-labs/gridsql/pkg/catalog"
	"github.com/leapstack-labs/gridsql/pkg/compiler"
	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
	"github.com/leapstack-labs/gridsql/pkg/links"
	"github.com/leapstack-labs/gridsql/pkg/relation"
)

// session holds the dependencies shared by the commands.
type session struct {
	cfg    *config.Config
	logger *slog.Logger

	schema  *catalog.Schema
	memory  *catalog.Memory
	catalog core.Catalog
	sink    core.FormulaErrorSink

	store   *state.SQLiteStore
	dialect dialect.Operators
	adapter adapter.Adapter
	metrics *metrics.Metrics

	closers []func() error
}

type sessionOptions struct {
	// connect opens the target database.
	connect bool
}

// openSession loads the schema, opens and migrates the state store and,
// when asked, connects to the target. The returned cleanup must be called.
func openSession(cmd *cobra.Command, opts sessionOptions) (*session, func(), error) {
	ctx := cmd.Context()
	cfg, err := getConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	s := &session{cfg: cfg, logger: getLogger(ctx), metrics: metrics.New()}
	cleanup := func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				s.logger.Warn("cleanup failed", slog.String("error", err.Error()))
			}
		}
	}

	if err := s.open(ctx, opts); err != nil {
		cleanup()
		return nil, nil, err
	}
	return s, cleanup, nil
}

func (s *session) open(ctx context.Context, opts sessionOptions) error {
	if s.cfg.Catalog.Schema == "" {
		return errors.New("no schema file configured (set catalog.schema or pass --schema)")
	}
	memory, schema, err := catalog.LoadSchemaFile(s.cfg.Catalog.Schema)
	if err != nil {
		return err
	}
	s.memory, s.schema = memory, schema

	s.store = state.NewSQLiteStore(s.logger)
	if err := s.store.Open(ctx, s.cfg.Catalog.State); err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	s.closers = append(s.closers, s.store.Close)
	if err := s.store.Migrate(ctx); err != nil {
		return err
	}
	if len(schema.Users) > 0 {
		if err := s.store.PutUsers(ctx, schema.BaseID, schema.Users); err != nil {
			return err
		}
	}
	if err := s.store.Overlay(ctx, memory); err != nil {
		return err
	}

	s.catalog, s.sink = memory, memory
	if s.cfg.Catalog.CacheSize > 0 {
		cached := catalog.NewCached(memory, catalog.CachedOptions{
			Size: s.cfg.Catalog.CacheSize,
			TTL:  s.cfg.Catalog.CacheTTL,
		})
		s.catalog, s.sink = cached, cached
		s.metrics.CacheHitRate(cached.HitRate)
	}

	if opts.connect {
		a, err := adapter.NewAdapter(*s.cfg.Target, s.logger)
		if err != nil {
			return err
		}
		if err := a.Connect(ctx, *s.cfg.Target); err != nil {
			return err
		}
		s.closers = append(s.closers, a.Close)
		s.adapter = a
		s.dialect = a.Dialect()
	} else {
		d, err := dialect.Lookup(s.cfg.Target.Type)
		if err != nil {
			return err
		}
		s.dialect = d
	}

	if addr := s.cfg.Metrics.Listen; addr != "" {
		mctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan error, 1)
		go func() { done <- s.metrics.Serve(mctx, addr, s.logger) }()
		s.closers = append(s.closers, func() error {
			cancel()
			return <-done
		})
	}
	return nil
}

func (s *session) relationOptions() []relation.Option {
	opts := []relation.Option{relation.WithLogger(s.logger)}
	if s.cfg.Catalog.StrictOneToOne {
		opts = append(opts, relation.WithStrictOneToOne())
	}
	return opts
}

func (s *session) compiler() *compiler.Compiler {
	opts := []compiler.Option{
		compiler.WithErrorSink(state.Tee(s.sink, s.store)),
		compiler.WithUsers(s.store),
		compiler.WithLogger(s.logger),
		compiler.WithObserver(s.metrics),
		compiler.WithRelationOptions(s.relationOptions()...),
	}
	if s.adapter != nil {
		opts = append(opts, compiler.WithQuerier(s.adapter.DB()))
	}
	return compiler.New(s.catalog, s.dialect, opts...)
}

func (s *session) resolver() *relation.Resolver {
	return relation.New(s.catalog, s.dialect, s.relationOptions()...)
}

func (s *session) links() *links.Engine {
	return links.New(s.catalog, s.dialect, s.adapter.DB(),
		links.WithHook(s.store),
		links.WithLogger(s.logger),
		links.WithObserver(s.metrics))
}

// table finds a table by id or physical name.
func (s *session) table(ctx context.Context, ref string) (*core.Table, error) {
	t, err := s.catalog.Table(ctx, ref)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = s.memory.TableByName(ref)
	}
	if t == nil {
		return nil, fmt.Errorf("table %q not found in %s", ref, s.cfg.Catalog.Schema)
	}
	return t, nil
}

// column finds a column by id.
func (s *session) column(ctx context.Context, id string) (*core.Column, error) {
	col, err := s.catalog.Column(ctx, id)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, fmt.Errorf("column %q not found in %s", id, s.cfg.Catalog.Schema)
	}
	return col, nil
}
