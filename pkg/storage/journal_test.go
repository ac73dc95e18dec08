package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// journalDriver запоминает запросы и отдаёт заранее заданные строки без реальной БД.
type journalDriver struct {
	mu    sync.Mutex
	execs []string
	args  [][]driver.NamedValue
	rows  [][]driver.Value
}

type journalConn struct{ d *journalDriver }

type journalRows struct {
	data [][]driver.Value
	pos  int
}

var fakeJournal = &journalDriver{}

func init() {
	sql.Register("journal", fakeJournal)
}

func (d *journalDriver) Open(string) (driver.Conn, error) { return &journalConn{d: d}, nil }

func (d *journalDriver) reset(rows ...[]driver.Value) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs, d.args, d.rows = nil, nil, rows
}

func (c *journalConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not implemented") }
func (c *journalConn) Close() error                        { return nil }
func (c *journalConn) Begin() (driver.Tx, error)           { return nil, errors.New("not implemented") }

func (c *journalConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.execs = append(c.d.execs, query)
	c.d.args = append(c.d.args, args)
	return driver.RowsAffected(1), nil
}

func (c *journalConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	return &journalRows{data: c.d.rows}, nil
}

func (r *journalRows) Columns() []string { return []string{"account_id", "status", "phone", "updated_at"} }
func (r *journalRows) Close() error      { return nil }

func (r *journalRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func openJournal(t *testing.T) *DB {
	t.Helper()
	conn, err := sql.Open("journal", "")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewDB(conn, zaptest.NewLogger(t))
}

func TestUpsertAccountStatusKeepsKnownPhone(t *testing.T) {
	fakeJournal.reset()
	db := openJournal(t)

	require.NoError(t, db.RecordStatus(context.Background(), "acct", "disconnected", ""))

	require.Len(t, fakeJournal.execs, 1)
	q := fakeJournal.execs[0]
	assert.Contains(t, q, "ON CONFLICT (account_id) DO UPDATE")
	assert.Contains(t, q, "COALESCE(EXCLUDED.phone, gateway_accounts.phone)")
	assert.Equal(t, "acct", fakeJournal.args[0][0].Value)
	assert.Equal(t, "disconnected", fakeJournal.args[0][1].Value)
}

func TestEnsureSchema(t *testing.T) {
	fakeJournal.reset()
	db := openJournal(t)
	require.NoError(t, db.EnsureSchema(context.Background()))
	require.Len(t, fakeJournal.execs, 1)
	assert.True(t, strings.Contains(fakeJournal.execs[0], "CREATE TABLE IF NOT EXISTS gateway_accounts"))
}

func TestListAccounts(t *testing.T) {
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	fakeJournal.reset(
		[]driver.Value{"a", "connected", "79990000001", now},
		[]driver.Value{"b", "disconnected", nil, now},
	)
	db := openJournal(t)

	accounts, err := db.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "79990000001", accounts[0].Phone)
	assert.Equal(t, "", accounts[1].Phone)
	assert.True(t, accounts[1].UpdatedAt.Equal(now))
}

func TestGetAccountStatusMissing(t *testing.T) {
	fakeJournal.reset()
	db := openJournal(t)

	_, err := db.GetAccountStatus(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestGetAccountStatus(t *testing.T) {
	fakeJournal.reset([]driver.Value{"a", "connected", "1", time.Now()})
	db := openJournal(t)

	a, err := db.GetAccountStatus(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "connected", a.Status)
}
