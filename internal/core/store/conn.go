package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
)

// maxOpenConns bounds the pool. WAL lets every connection read while one
// writes; Store.mu keeps writes to one at a time.
const maxOpenConns = 8

// sessionPragmas run on every new connection. busy_timeout is per
// connection, so applying it once after Open would only cover the first.
var sessionPragmas = []string{
	fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMillis),
	"PRAGMA journal_mode=WAL",
}

// pragmaConnector opens driver connections and configures each one before
// the pool hands it out.
type pragmaConnector struct {
	driver  driver.Driver
	base    driver.Connector
	dsn     string
	pragmas []string
}

func newPragmaConnector(driverName, dsn string, pragmas []string) (*pragmaConnector, error) {
	// sql.Open does not connect; it only resolves the registered driver.
	probe, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	d := probe.Driver()
	_ = probe.Close()

	c := &pragmaConnector{driver: d, dsn: dsn, pragmas: pragmas}
	if dc, ok := d.(driver.DriverContext); ok {
		base, err := dc.OpenConnector(dsn)
		if err != nil {
			return nil, err
		}
		c.base = base
	}
	return c, nil
}

func (c *pragmaConnector) Connect(ctx context.Context) (driver.Conn, error) {
	var (
		conn driver.Conn
		err  error
	)
	if c.base != nil {
		conn, err = c.base.Connect(ctx)
	} else {
		conn, err = c.driver.Open(c.dsn)
	}
	if err != nil {
		return nil, err
	}

	for _, pragma := range c.pragmas {
		if err := applyPragma(ctx, conn, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return conn, nil
}

func (c *pragmaConnector) Driver() driver.Driver {
	return c.driver
}

// applyPragma runs a PRAGMA and drains its single result row. PRAGMA
// assignments return a row on both drivers, so they go through Query.
func applyPragma(ctx context.Context, conn driver.Conn, pragma string) error {
	if queryer, ok := conn.(driver.QueryerContext); ok {
		rows, err := queryer.QueryContext(ctx, pragma, nil)
		if err == nil {
			return drain(rows)
		}
		if !errors.Is(err, driver.ErrSkip) {
			return err
		}
	}

	stmt, err := conn.Prepare(pragma)
	if err != nil {
		return err
	}
	defer stmt.Close() // nolint:errcheck // closed after rows

	rows, err := stmt.Query(nil) //nolint:staticcheck // fallback for drivers without QueryerContext
	if err != nil {
		return err
	}
	return drain(rows)
}

func drain(rows driver.Rows) error {
	defer rows.Close() // nolint:errcheck // best-effort cleanup on driver rows

	dest := make([]driver.Value, len(rows.Columns()))
	for {
		if err := rows.Next(dest); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
