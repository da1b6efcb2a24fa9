// Package app wires the workspace database, config, and services together
// for the CLI and the HTTP server.
package app

import (
	"database/sql"
	"fmt"

	"caseflow/internal/config"
	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/engine/adhoc"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
	"caseflow/internal/screening"
)

// Context holds the opened database and the services built on it.
type Context struct {
	DB        *sql.DB
	Config    *config.Config
	Repo      repo.Repo
	Engine    engine.Engine
	AdHoc     adhoc.Service
	Screening screening.Service
}

// Open prepares the workspace, runs migrations, loads caseflow.yml if
// present, and builds the services. Callers own Close.
func Open(workspace string) (*Context, error) {
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e := engine.New(conn, cfg)
	scr := screening.New(conn)
	if cfg != nil && len(cfg.Screening.Contexts) > 0 {
		scr.Contexts = cfg.Screening.Contexts
	}
	return &Context{
		DB:        conn,
		Config:    cfg,
		Repo:      repo.Repo{DB: conn},
		Engine:    e,
		AdHoc:     adhoc.New(conn),
		Screening: scr,
	}, nil
}

func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
