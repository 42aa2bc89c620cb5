package migrate

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestSplitStatementsQuoteAware(t *testing.T) {
	cases := []struct {
		name   string
		script string
		want   int
	}{
		{
			name:   "plain statements",
			script: "create table a (id text);\ncreate table b (id text);",
			want:   2,
		},
		{
			name:   "semicolon inside string literal",
			script: "insert into t (v) values ('a;b');",
			want:   1,
		},
		{
			name: "dollar quoted function body",
			script: `create function f() returns boolean as $$
begin
  return true;
end;
$$ language plpgsql;
create table x (id text);`,
			want: 2,
		},
		{
			name:   "tagged dollar quote",
			script: "create function g() returns int as $fn$ select 1; $fn$ language sql;",
			want:   1,
		},
		{
			name:   "semicolon inside line comment",
			script: "-- keep; this together\nselect 1;",
			want:   1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitStatements(tc.script)
			if len(got) != tc.want {
				t.Fatalf("expected %d statements, got %d: %q", tc.want, len(got), got)
			}
		})
	}
}

func TestSplitStatementsKeepsFunctionBodyIntact(t *testing.T) {
	script := `create function is_member(p text) returns boolean as $$
begin
  return exists(select 1 from memberships where principal_id = p);
end;
$$ language plpgsql security definer;`

	stmts := splitStatements(script)
	if len(stmts) != 1 {
		t.Fatalf("expected one statement, got %d", len(stmts))
	}
	if !strings.Contains(stmts[0], "end;") {
		t.Fatalf("function body was cut: %q", stmts[0])
	}
}

func TestDollarQuoteTag(t *testing.T) {
	if tag := dollarQuoteTag("$$ body $$"); tag != "$$" {
		t.Fatalf("expected $$, got %q", tag)
	}
	if tag := dollarQuoteTag("$fn$ body $fn$"); tag != "$fn$" {
		t.Fatalf("expected $fn$, got %q", tag)
	}
	if tag := dollarQuoteTag("$1, $2"); tag != "" {
		t.Fatalf("positional parameter read as tag: %q", tag)
	}
}

func writeSQL(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	// Written out of order; lexical sort decides execution order.
	writeSQL(t, dir, "0002_widgets.up.sql", "create table widgets (id text);")
	writeSQL(t, dir, "0001_gadgets.up.sql", "create table gadgets (id text);")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	mock.ExpectBegin()
	mock.ExpectExec("create table gadgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0001_gadgets.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectExec("create table widgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_widgets.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, dir, dir)
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpSkipsExecutedMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	dir := t.TempDir()
	writeSQL(t, dir, "0001_gadgets.up.sql", "create table gadgets (id text);")
	writeSQL(t, dir, "0002_widgets.up.sql", "create table widgets (id text);")

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_gadgets.up.sql"))

	mock.ExpectBegin()
	mock.ExpectExec("create table widgets").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_widgets.up.sql", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mgr := NewManager(db, dir, dir)
	if err := mgr.Up(context.Background()); err != nil {
		t.Fatalf("Up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDownWithoutHistory(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select name from schema_migrations order by applied_at").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	mgr := NewManager(db, t.TempDir(), "")
	err = mgr.Down(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no migrations applied") {
		t.Fatalf("expected no-migrations error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
