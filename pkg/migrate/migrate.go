package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedded embed.FS

const (
	// DefaultDir is where new migrations are written and validated.
	DefaultDir = "pkg/migrate/migrations"

	embeddedDir = "migrations"
	dialect     = "postgres"
)

// Command names a goose command the runner accepts.
type Command string

const (
	CommandUp     Command = "up"
	CommandDown   Command = "down"
	CommandStatus Command = "status"
	CommandRedo   Command = "redo"
)

// ParseCommand validates a command given on the command line.
func ParseCommand(value string) (Command, error) {
	switch cmd := Command(value); cmd {
	case CommandUp, CommandDown, CommandStatus, CommandRedo:
		return cmd, nil
	default:
		return "", fmt.Errorf("unsupported migration command %q", value)
	}
}

// Runner applies the boletos schema to one database. With an empty dir it
// reads the migrations compiled into the binary.
type Runner struct {
	db   *sql.DB
	dir  string
	fsys fs.FS
}

func NewRunner(db *sql.DB, dir string) (*Runner, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	r := &Runner{db: db, dir: dir}
	if dir == "" {
		r.dir = embeddedDir
		r.fsys = embedded
	}
	return r, nil
}

// Source describes where migrations are read from, for logs.
func (r *Runner) Source() string {
	if r.fsys != nil {
		return "embedded"
	}
	return r.dir
}

func (r *Runner) Run(ctx context.Context, cmd Command) error {
	if err := r.prepare(); err != nil {
		return err
	}
	if err := goose.RunContext(ctx, string(cmd), r.db, r.dir); err != nil {
		return fmt.Errorf("goose %s: %w", cmd, err)
	}
	return nil
}

// To migrates up or down until the database sits at version.
func (r *Runner) To(ctx context.Context, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil || target < 0 {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", version)
	}
	if err := r.prepare(); err != nil {
		return err
	}

	current, err := goose.GetDBVersion(r.db)
	if err != nil {
		return fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current < target:
		err = goose.UpToContext(ctx, r.db, r.dir, target)
	case current > target:
		err = goose.DownToContext(ctx, r.db, r.dir, target)
	}
	if err != nil {
		return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
	}
	return nil
}

func (r *Runner) prepare() error {
	goose.SetBaseFS(r.fsys)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return nil
}
