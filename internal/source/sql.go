package source

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/rfm/internal/domain"
)

// SQLSource streams transaction lines from a query. Result columns are
// matched to fields by name, like a header row.
type SQLSource struct {
	db      *sql.DB
	driver  string
	query   string
	columns domain.ColumnMapping
	opts    Options
	err     error
}

// OpenSQL connects to the configured database. Supported drivers are
// mysql (also accepting mysql:// and mariadb:// URLs), postgres and sqlite.
func OpenSQL(cfg domain.SQLSourceConfig, columns domain.ColumnMapping, opts Options) (*SQLSource, error) {
	if strings.TrimSpace(cfg.Query) == "" {
		return nil, domain.ConfigError("source.sql.query is required")
	}

	driver, dsn := cfg.Driver, cfg.DSN
	switch driver {
	case "mysql", "mariadb":
		var err error
		if dsn, err = toMySQLDSN(dsn); err != nil {
			return nil, err
		}
		driver = "mysql"
	case "postgres", "sqlite":
	default:
		return nil, domain.ConfigError("source.sql.driver %q is not one of mysql, postgres, sqlite", cfg.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, eris.Wrapf(err, "sql source: open %s", driver)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &SQLSource{
		db:      db,
		driver:  driver,
		query:   cfg.Query,
		columns: columns,
		opts:    opts,
	}, nil
}

func (s *SQLSource) Lines(ctx context.Context) iter.Seq[domain.TransactionLine] {
	return func(yield func(domain.TransactionLine) bool) {
		rows, err := s.db.QueryContext(ctx, s.query)
		if err != nil {
			s.err = eris.Wrap(err, "sql source: query")
			return
		}
		defer rows.Close()

		names, err := rows.Columns()
		if err != nil {
			s.err = eris.Wrap(err, "sql source: columns")
			return
		}
		idx, err := newColumnIndex(names, s.columns)
		if err != nil {
			s.err = eris.Wrap(err, "sql source")
			return
		}

		bar := newProgress(s.opts.Progress, -1, "reading "+s.driver)
		defer bar.finish()

		values := make([]sql.NullString, len(names))
		dest := make([]any, len(names))
		for i := range values {
			dest[i] = &values[i]
		}
		record := make([]string, len(names))

		for rows.Next() {
			if err := rows.Scan(dest...); err != nil {
				s.err = eris.Wrap(err, "sql source: scan")
				return
			}
			for i, v := range values {
				record[i] = v.String
			}
			bar.add(1)
			if !yield(idx.line(record, s.driver)) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			s.err = eris.Wrap(err, "sql source: rows")
		}
	}
}

func (s *SQLSource) Err() error {
	return s.err
}

func (s *SQLSource) Close() error {
	return eris.Wrap(s.db.Close(), "sql source: close")
}

// toMySQLDSN turns mysql:// and mariadb:// URLs into the driver's native
// DSN. Anything else is passed through unchanged.
func toMySQLDSN(dsn string) (string, error) {
	if !strings.HasPrefix(dsn, "mariadb://") && !strings.HasPrefix(dsn, "mysql://") {
		return dsn, nil
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return "", domain.ConfigError("source.sql.dsn: %v", err)
	}
	var user, pass string
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}
	host := u.Host
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" || host == "" || db == "" {
		return "", domain.ConfigError("source.sql.dsn must name user, host and database")
	}
	return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=false&interpolateParams=true", user, pass, host, db), nil
}
