package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"serie/internal/core"
)

// timeLayout is fixed-width so that lexical order matches time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
}

// Queries holds the SQL used by SQLiteRepository.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const selectTransactions = `SELECT id, name, amount_cents, occurred_at, kind, category_id, account_id,
	recurrence, series_id, series_end_date, installment_group_id, installment_index,
	installment_total, installment_original_cents
FROM transactions`

const insertTransaction = `INSERT INTO transactions (
	id, name, amount_cents, occurred_at, kind, category_id, account_id, recurrence,
	series_id, series_end_date, installment_group_id, installment_index,
	installment_total, installment_original_cents
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const updateTransaction = `UPDATE transactions SET
	name = ?, amount_cents = ?, occurred_at = ?, kind = ?, category_id = ?, account_id = ?,
	recurrence = ?, series_id = ?, series_end_date = ?, installment_group_id = ?,
	installment_index = ?, installment_total = ?, installment_original_cents = ?
WHERE id = ?`

// where renders the filter as a WHERE clause with positional arguments.
func where(f Filter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.ID != "" {
		conds = append(conds, "id = ?")
		args = append(args, f.ID)
	}
	if f.SeriesID != "" {
		conds = append(conds, "series_id = ?")
		args = append(args, f.SeriesID)
	}
	if f.InstallmentGroupID != "" {
		conds = append(conds, "installment_group_id = ?")
		args = append(args, f.InstallmentGroupID)
	}
	if !f.After.IsEmpty() {
		conds = append(conds, "occurred_at > ?")
		args = append(args, formatTime(f.After.Time))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (q *Queries) ListTransactions(ctx context.Context, f Filter) ([]core.Transaction, error) {
	clause, args := where(f)
	query := selectTransactions + clause + " ORDER BY occurred_at, COALESCE(installment_index, 0), id"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (q *Queries) CreateTransaction(ctx context.Context, tx core.Transaction) error {
	_, err := q.db.ExecContext(ctx, insertTransaction, transactionArgs(tx)...)
	return err
}

// UpdateTransaction returns the number of rows changed (0 or 1).
func (q *Queries) UpdateTransaction(ctx context.Context, tx core.Transaction) (int64, error) {
	args := append(transactionArgs(tx)[1:], tx.ID)
	res, err := q.db.ExecContext(ctx, updateTransaction, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteTransactions(ctx context.Context, f Filter) (int64, error) {
	clause, args := where(f)
	res, err := q.db.ExecContext(ctx, "DELETE FROM transactions"+clause, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func transactionArgs(tx core.Transaction) []interface{} {
	var (
		groupID       sql.NullString
		index, total  sql.NullInt64
		originalCents sql.NullInt64
	)
	if inst := tx.Installment; inst != nil {
		groupID = sql.NullString{String: inst.GroupID, Valid: true}
		index = sql.NullInt64{Int64: int64(inst.Index), Valid: true}
		total = sql.NullInt64{Int64: int64(inst.Total), Valid: true}
		originalCents = sql.NullInt64{Int64: inst.OriginalAmount.Cents, Valid: true}
	}
	var endDate sql.NullString
	if !tx.SeriesEndDate.IsEmpty() {
		endDate = sql.NullString{String: formatTime(tx.SeriesEndDate.Time), Valid: true}
	}
	return []interface{}{
		tx.ID,
		tx.Name,
		tx.Amount.Cents,
		formatTime(tx.Date.Time),
		string(tx.Kind),
		nullString(tx.CategoryID),
		nullString(tx.AccountID),
		string(tx.Recurrence),
		tx.SeriesID,
		endDate,
		groupID,
		index,
		total,
		originalCents,
	}
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		tx                           core.Transaction
		occurredAt, kind, recurrence string
		categoryID, accountID        sql.NullString
		endDate, groupID             sql.NullString
		index, total, originalCents  sql.NullInt64
	)
	err := row.Scan(
		&tx.ID, &tx.Name, &tx.Amount.Cents, &occurredAt, &kind, &categoryID, &accountID,
		&recurrence, &tx.SeriesID, &endDate, &groupID, &index, &total, &originalCents,
	)
	if err != nil {
		return core.Transaction{}, err
	}

	t, err := parseTime(occurredAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: occurred_at: %w", tx.ID, err)
	}
	tx.Date = core.Date{Time: t}
	if endDate.Valid {
		e, err := parseTime(endDate.String)
		if err != nil {
			return core.Transaction{}, fmt.Errorf("transaction %s: series_end_date: %w", tx.ID, err)
		}
		tx.SeriesEndDate = core.Date{Time: e}
	}
	tx.Kind = core.Kind(kind)
	tx.Recurrence = core.Recurrence(recurrence)
	tx.CategoryID = categoryID.String
	tx.AccountID = accountID.String
	if groupID.Valid {
		tx.Installment = &core.Installment{
			GroupID:        groupID.String,
			Index:          int(index.Int64),
			Total:          int(total.Int64),
			OriginalAmount: core.Money{Cents: originalCents.Int64},
		}
	}
	return tx, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
