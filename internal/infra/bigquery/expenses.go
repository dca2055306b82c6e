// Package bigquery is the BigQuery-backed expense repository.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/expense-tracker/internal/expense"
)

const expensesTable = "expenses"

// ExpenseRow is the BigQuery row shape for one expense.
type ExpenseRow struct {
	ExpenseID   string     `bigquery:"expense_id"`
	OwnerID     string     `bigquery:"owner_id"`
	Vendor      string     `bigquery:"vendor"`
	Amount      float64    `bigquery:"amount"`
	ExpenseDate civil.Date `bigquery:"expense_date"`
	Category    string     `bigquery:"category"`
	ArtifactKey string     `bigquery:"artifact_key"`
	CreatedTS   time.Time  `bigquery:"created_ts"`
	UpdatedTS   time.Time  `bigquery:"updated_ts"`
}

func toRow(e *expense.Expense) *ExpenseRow {
	return &ExpenseRow{
		ExpenseID:   e.ID,
		OwnerID:     e.Owner,
		Vendor:      e.Vendor,
		Amount:      e.Amount,
		ExpenseDate: e.Date,
		Category:    string(e.Category),
		ArtifactKey: e.ArtifactKey,
		CreatedTS:   e.CreatedAt,
		UpdatedTS:   e.UpdatedAt,
	}
}

func fromRow(r *ExpenseRow) *expense.Expense {
	return &expense.Expense{
		ID:          r.ExpenseID,
		Owner:       r.OwnerID,
		Vendor:      r.Vendor,
		Amount:      r.Amount,
		Date:        r.ExpenseDate,
		Category:    expense.Category(r.Category),
		ArtifactKey: r.ArtifactKey,
		CreatedAt:   r.CreatedTS,
		UpdatedAt:   r.UpdatedTS,
	}
}

// ExpenseRepository is the concrete implementation of expense.Repository that
// interacts with BigQuery. It holds a shared client to avoid creating a new
// connection for each operation.
type ExpenseRepository struct {
	client  *bigquery.Client
	dataset string
}

// NewExpenseRepository creates a repository with a shared BigQuery client.
func NewExpenseRepository(ctx context.Context, projectID, datasetID string) (*ExpenseRepository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewExpenseRepository: creating client: %w", err)
	}
	return &ExpenseRepository{
		client:  client,
		dataset: datasetID,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *ExpenseRepository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Insert persists one expense row.
func (r *ExpenseRepository) Insert(ctx context.Context, e *expense.Expense) error {
	inserter := r.client.Dataset(r.dataset).Table(expensesTable).Inserter()
	if err := inserter.Put(ctx, toRow(e)); err != nil {
		return fmt.Errorf("Insert: inserting row: %w", err)
	}
	return nil
}

// Get retrieves one expense scoped by (id, owner).
func (r *ExpenseRepository) Get(ctx context.Context, id, ownerID string) (*expense.Expense, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			expense_id, owner_id, vendor, amount, expense_date,
			category, artifact_key, created_ts, updated_ts
		FROM %s.%s
		WHERE expense_id = @expense_id
		  AND owner_id = @owner_id
		LIMIT 1
	`, r.dataset, expensesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "expense_id", Value: id},
		{Name: "owner_id", Value: ownerID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Get: query read: %w", err)
	}

	var row ExpenseRow
	if err := it.Next(&row); err != nil {
		if errors.Is(err, iterator.Done) {
			return nil, expense.ErrNotFound
		}
		return nil, fmt.Errorf("Get: iterating rows: %w", err)
	}
	return fromRow(&row), nil
}

// ListByOwner retrieves the owner's expenses, newest first, with optional
// date bounds.
func (r *ExpenseRepository) ListByOwner(ctx context.Context, ownerID string, from, to civil.Date) ([]*expense.Expense, error) {
	query := fmt.Sprintf(`
		SELECT
			expense_id, owner_id, vendor, amount, expense_date,
			category, artifact_key, created_ts, updated_ts
		FROM %s.%s
		WHERE owner_id = @owner_id
	`, r.dataset, expensesTable)
	params := []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
	}

	if from.IsValid() {
		query += "\t\t  AND expense_date >= @from_date\n"
		params = append(params, bigquery.QueryParameter{Name: "from_date", Value: from})
	}
	if to.IsValid() {
		query += "\t\t  AND expense_date <= @to_date\n"
		params = append(params, bigquery.QueryParameter{Name: "to_date", Value: to})
	}
	query += "\t\tORDER BY created_ts DESC"

	q := r.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListByOwner: query read: %w", err)
	}

	var out []*expense.Expense
	for {
		var row ExpenseRow
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListByOwner: iterating rows: %w", err)
		}
		out = append(out, fromRow(&row))
	}
	return out, nil
}

// Update overwrites the mutable fields of one row scoped by (id, owner).
func (r *ExpenseRepository) Update(ctx context.Context, e *expense.Expense) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s.%s
		SET vendor = @vendor,
		    amount = @amount,
		    expense_date = @expense_date,
		    category = @category,
		    artifact_key = @artifact_key,
		    updated_ts = @updated_ts
		WHERE expense_id = @expense_id
		  AND owner_id = @owner_id
	`, r.dataset, expensesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "vendor", Value: e.Vendor},
		{Name: "amount", Value: e.Amount},
		{Name: "expense_date", Value: e.Date},
		{Name: "category", Value: string(e.Category)},
		{Name: "artifact_key", Value: e.ArtifactKey},
		{Name: "updated_ts", Value: e.UpdatedAt},
		{Name: "expense_id", Value: e.ID},
		{Name: "owner_id", Value: e.Owner},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if affected == 0 {
		return expense.ErrNotFound
	}
	return nil
}

// Delete removes one row scoped by (id, owner).
func (r *ExpenseRepository) Delete(ctx context.Context, id, ownerID string) error {
	q := r.client.Query(fmt.Sprintf(`
		DELETE FROM %s.%s
		WHERE expense_id = @expense_id
		  AND owner_id = @owner_id
	`, r.dataset, expensesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "expense_id", Value: id},
		{Name: "owner_id", Value: ownerID},
	}

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if affected == 0 {
		return expense.ErrNotFound
	}
	return nil
}

// ArtifactKeyInUse reports whether any expense references the artifact key.
func (r *ExpenseRepository) ArtifactKeyInUse(ctx context.Context, key string) (bool, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT COUNT(*) AS n
		FROM %s.%s
		WHERE artifact_key = @artifact_key
	`, r.dataset, expensesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "artifact_key", Value: key},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return false, fmt.Errorf("ArtifactKeyInUse: query read: %w", err)
	}

	var row struct {
		N int64 `bigquery:"n"`
	}
	if err := it.Next(&row); err != nil {
		return false, fmt.Errorf("ArtifactKeyInUse: iterating rows: %w", err)
	}
	return row.N > 0, nil
}

// runDML runs a DML query and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if stats, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
		return stats.NumDMLAffectedRows, nil
	}
	return 0, nil
}

// Ensure ExpenseRepository implements the repository interface.
var _ expense.Repository = (*ExpenseRepository)(nil)
