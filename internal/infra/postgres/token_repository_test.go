package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"browsermcp/internal/config"
)

type drvMode struct {
	schemaErr bool
	queryErr  bool
}

var (
	testDriverCounter atomic.Int64
	testMode          drvMode
)

type fakeDriver struct{}

type fakeConn struct{}

type fakeRows struct {
	cols []string
	data [][]driver.Value
	i    int
}

func (d fakeDriver) Open(name string) (driver.Conn, error) { return fakeConn{}, nil }
func (c fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("not implemented")
}
func (c fakeConn) Close() error              { return nil }
func (c fakeConn) Begin() (driver.Tx, error) { return nil, errors.New("not implemented") }

func (c fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if testMode.schemaErr {
		return nil, errors.New("schema failed")
	}
	return driver.RowsAffected(0), nil
}

func (c fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if testMode.queryErr {
		return nil, errors.New("query failed")
	}
	return &fakeRows{
		cols: []string{"token", "rate_limit", "comment"},
		data: [][]driver.Value{{"tok1", int64(5), "ci"}, {"tok2", int64(0), nil}},
	}, nil
}

func (r *fakeRows) Columns() []string { return r.cols }
func (r *fakeRows) Close() error      { return nil }
func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.i])
	r.i++
	return nil
}

// repoWithFakeDB returns a repository whose pool is already open on the fake driver.
func repoWithFakeDB(t *testing.T) *TokenRepository {
	t.Helper()
	name := fmt.Sprintf("fakedrv_%d", testDriverCounter.Add(1))
	sql.Register(name, fakeDriver{})
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("sql open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &TokenRepository{DB: &DB{db: db, dsn: "x"}, DSN: "x"}
}

func TestTokenRepository_LoadTokens_DriverSuccess(t *testing.T) {
	testMode = drvMode{}
	r := repoWithFakeDB(t)

	out, err := r.LoadTokens(context.Background())
	if err != nil {
		t.Fatalf("load tokens: %v", err)
	}
	if len(out) != 2 || out["tok1"].RateLimit != 5 || out["tok1"].Comment != "ci" {
		t.Fatalf("unexpected output: %+v", out)
	}
	if out["tok2"].Comment != "" {
		t.Fatalf("NULL comment should map to empty string: %+v", out["tok2"])
	}
}

func TestTokenRepository_LoadTokens_SchemaError(t *testing.T) {
	testMode = drvMode{schemaErr: true}
	r := repoWithFakeDB(t)
	if _, err := r.LoadTokens(context.Background()); err == nil {
		t.Fatalf("expected schema error")
	}
}

func TestTokenRepository_LoadTokens_QueryError(t *testing.T) {
	testMode = drvMode{queryErr: true}
	r := repoWithFakeDB(t)
	if _, err := r.LoadTokens(context.Background()); err == nil {
		t.Fatalf("expected query error")
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.PostgresConfig
		want    string
		wantErr bool
	}{
		{
			name: "url passthrough",
			cfg:  config.PostgresConfig{Host: "postgres://u:p@db:5432/app?sslmode=disable"},
			want: "postgres://u:p@db:5432/app?sslmode=disable",
		},
		{
			name: "key value passthrough",
			cfg:  config.PostgresConfig{Host: " host=db port=5433 user=u dbname=app sslmode=disable "},
			want: "host=db port=5433 user=u dbname=app sslmode=disable",
		},
		{
			name: "default port",
			cfg:  config.PostgresConfig{Host: "db", Database: "app", User: "u", Password: "p", SSLMode: "disable"},
			want: "postgres://u:p@db:5432/app?sslmode=disable",
		},
		{
			name: "ipv6",
			cfg:  config.PostgresConfig{Host: "::1", Port: 6543, Database: "app", User: "u"},
			want: "postgres://u@[::1]:6543/app",
		},
		{name: "no host", cfg: config.PostgresConfig{Database: "app", User: "u"}, wantErr: true},
		{name: "no database", cfg: config.PostgresConfig{Host: "db", User: "u"}, wantErr: true},
		{name: "no user", cfg: config.PostgresConfig{Host: "db", Database: "app"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DSN(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("DSN: %v", err)
			}
			if got != tc.want {
				t.Fatalf("DSN = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTokenRepository_RejectsIncompleteConfig(t *testing.T) {
	if _, err := NewTokenRepository(config.PostgresConfig{Host: "db"}); err == nil {
		t.Fatalf("expected error for missing database/user")
	}
}

func TestDBClose_Idempotent(t *testing.T) {
	r := repoWithFakeDB(t)
	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
