package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	xerrors "WalletPilot/internal/errors"

	gomysql "github.com/go-sql-driver/mysql"
)

func TestMemoryTurnRepositoryPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	repo, err := NewMemoryTurnRepository(dir)
	if err != nil {
		t.Fatalf("failed to create memory repo: %v", err)
	}

	ctx := context.Background()
	first := TurnRecord{ID: "turn-1", Message: "balance?", Operation: 0, Response: "Your balance is 1 ETH.", CreatedAt: 10}
	second := TurnRecord{ID: "turn-2", Message: "send", Operation: 4, Response: "ETH transfer initiated: 0xabc", TransactionID: "0xabc", CreatedAt: 20}
	for _, record := range []TurnRecord{first, second} {
		if err := repo.Save(ctx, record); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	list, err := repo.ListLatest(ctx, 10)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "turn-2" {
		t.Fatalf("records not in reverse write order: %+v", list)
	}

	if err := repo.Save(ctx, first); xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict for duplicate id, got %v", err)
	}

	reopened, err := NewMemoryTurnRepository(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	restored, err := reopened.ListLatest(ctx, 1)
	if err != nil {
		t.Fatalf("list after reopen failed: %v", err)
	}
	if len(restored) != 1 || restored[0].TransactionID != "0xabc" {
		t.Fatalf("unexpected restored records: %+v", restored)
	}
}

func TestSQLTurnRepositorySave(t *testing.T) {
	t.Parallel()

	db, driver := newMockDB(t, []mockOperation{
		execOp(insertTurnSQL, mockResult{rowsAffected: 1}),
	})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLTurnRepository{db: db}
	record := TurnRecord{ID: "turn-1", Message: "hi", Operation: 6, Response: "hello", CreatedAt: 1}
	if err := repo.Save(context.Background(), record); err != nil {
		t.Fatalf("save failed: %v", err)
	}
}

func TestSQLTurnRepositoryDuplicateIsConflict(t *testing.T) {
	t.Parallel()

	op := execOp(insertTurnSQL, mockResult{})
	op.err = &gomysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry 'turn-1' for key 'PRIMARY'"}
	db, driver := newMockDB(t, []mockOperation{op})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLTurnRepository{db: db}
	err := repo.Save(context.Background(), TurnRecord{ID: "turn-1"})
	if xerrors.CodeOf(err) != xerrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSQLTurnRepositoryListLatest(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: []string{"id", "address", "message", "operation", "response", "transaction_id", "error_code", "model", "created_at"},
		values: [][]driver.Value{
			{"turn-2", "0xabc", "send", int64(4), "ETH transfer initiated: 0x1", "0x1", "", "gpt-4o-mini", int64(20)},
			{"turn-1", "0xabc", "balance", int64(0), "An error occurred", "", "BALANCE_QUERY_FAILURE", "gpt-4o-mini", int64(10)},
		},
	}

	db, driver := newMockDB(t, []mockOperation{queryOp(selectLatestTurnsSQL, rows)})
	defer driver.assertConsumed(t)
	defer db.Close()

	repo := &SQLTurnRepository{db: db}
	list, err := repo.ListLatest(context.Background(), 2)
	if err != nil {
		t.Fatalf("list latest failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "turn-2" || list[0].Operation != 4 {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[1].ErrorCode != "BALANCE_QUERY_FAILURE" {
		t.Fatalf("error code not scanned: %+v", list[1])
	}
}

func TestRunMigrations(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
		beginOp(),
		execOp(readMigrationStatement(), mockResult{}),
		execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
		commitOp(),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestRunMigrationsSkipsApplied(t *testing.T) {
	t.Parallel()

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	db, driver := newMockDB(t, ops)
	defer driver.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestValidateDSN(t *testing.T) {
	t.Parallel()

	if _, err := validateDSN(""); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
	if _, err := validateDSN("root:secret@tcp(localhost:3306)/"); err == nil {
		t.Fatalf("expected error when database name is missing")
	}
	if _, err := validateDSN("not a dsn"); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
	dsn, err := validateDSN("root:secret@tcp(localhost:3306)/walletpilot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(dsn, "timeout=5s") {
		t.Fatalf("expected default dial timeout in %q", dsn)
	}
}

func readMigrationStatement() string {
	content, err := embeddedMigrations.ReadFile("0001_chat_turns.sql")
	if err != nil {
		panic(fmt.Sprintf("failed to read migration: %v", err))
	}
	statements := splitSQLStatements(string(content))
	if len(statements) != 1 {
		panic("expected exactly one statement in migration")
	}
	return statements[0]
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
