package databaserunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"github.com/sadewadee/mystic-shorts/runner"
	"github.com/sadewadee/mystic-shorts/tlmt"
)

// dbrunner applies the schema migrations, or prints their status, and exits
type dbrunner struct {
	cfg        *runner.Config
	conn       *sqlx.DB
	isPostgres bool
	out        io.Writer
}

func New(cfg *runner.Config) (runner.Runner, error) {
	if cfg.RunMode != runner.RunModeMigrate {
		return nil, fmt.Errorf("%w: %d", runner.ErrInvalidRunMode, cfg.RunMode)
	}

	conn, isPostgres, err := runner.OpenConnection(cfg)
	if err != nil {
		return nil, err
	}

	return &dbrunner{
		cfg:        cfg,
		conn:       conn,
		isPostgres: isPostgres,
		out:        os.Stdout,
	}, nil
}

func (d *dbrunner) Run(ctx context.Context) error {
	if d.cfg.MigrateStatus {
		return d.printStatus()
	}

	before, err := runner.MigrationStatus(d.conn, d.isPostgres)
	if err != nil {
		return err
	}

	if err := runner.Migrate(d.conn, d.isPostgres); err != nil {
		return err
	}

	applied := 0
	for _, st := range before {
		if !st.Applied {
			applied++
		}
	}

	_ = runner.Telemetry().Send(ctx, tlmt.NewEvent("databaserunner.Run", "", map[string]any{
		"applied": applied,
	}))

	log.WithField("applied", applied).Info("database migrations completed")

	return nil
}

func (d *dbrunner) printStatus() error {
	states, err := runner.MigrationStatus(d.conn, d.isPostgres)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(d.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATUS")

	for _, st := range states {
		status := "pending"
		if st.Applied {
			status = "applied"
		}

		fmt.Fprintf(w, "%s\t%s\n", st.Version, status)
	}

	return w.Flush()
}

func (d *dbrunner) Close(context.Context) error {
	if d.conn != nil {
		return d.conn.Close()
	}

	return nil
}
