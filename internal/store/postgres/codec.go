package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/perpcore/internal/fixedpoint"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so the stores run
// unchanged inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

// num encodes an unsigned amount for a NUMERIC column.
func num(x *uint256.Int) string {
	return fixedpoint.OrZero(x).Dec()
}

// signed encodes a two's complement int256 for a NUMERIC column.
func signed(x *uint256.Int) string {
	return fixedpoint.FormatSigned(fixedpoint.OrZero(x))
}

// nullTime maps the zero time to NULL.
func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fromNullTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

// decoder parses NUMERIC text columns and remembers the first failure so a
// row can be decoded without an error check per field.
type decoder struct {
	err error
}

func (d *decoder) num(s string) *uint256.Int {
	if d.err != nil {
		return new(uint256.Int)
	}
	x, err := uint256.FromDecimal(s)
	if err != nil {
		d.err = fmt.Errorf("decode amount %q: %w", s, err)
		return new(uint256.Int)
	}
	return x
}

func (d *decoder) signed(s string) *uint256.Int {
	if d.err != nil {
		return new(uint256.Int)
	}
	x, err := fixedpoint.ParseSigned(s)
	if err != nil {
		d.err = fmt.Errorf("decode signed amount %q: %w", s, err)
		return new(uint256.Int)
	}
	return x
}

func hashOf(b []byte) common.Hash       { return common.BytesToHash(b) }
func addressOf(b []byte) common.Address { return common.BytesToAddress(b) }
