package commands

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hearthworks/hearth-core/internal/infrastructure/database"
)

// Repository provides SQLite-backed persistence for the command catalog.
type Repository struct {
	db *database.DB
}

// NewRepository creates a command repository backed by the given database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// All returns every persisted command in insertion order.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - []*Command: All commands, ordered by rowid (load order)
//   - error: If the query fails
func (r *Repository) All(ctx context.Context) ([]*Command, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, machine_label, label, description, input_type_id,
		       created_at, updated_at
		FROM commands
		ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only iteration

	var cmds []*Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return cmds, nil
}

// Get returns one command by id.
//
// Returns:
//   - *Command: The command
//   - error: ErrCommandNotFound if no row matches
func (r *Repository) Get(ctx context.Context, id string) (*Command, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, machine_label, label, description, input_type_id,
		       created_at, updated_at
		FROM commands
		WHERE id = ?`, id)

	cmd, err := scanCommand(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", ErrCommandNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// Save inserts or replaces a command definition.
func (r *Repository) Save(ctx context.Context, cmd *Command) error {
	now := time.Now().UTC()
	createdAt := cmd.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO commands (id, machine_label, label, description, input_type_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			machine_label = excluded.machine_label,
			label = excluded.label,
			description = excluded.description,
			input_type_id = excluded.input_type_id,
			updated_at = excluded.updated_at`,
		cmd.ID, cmd.MachineLabel, cmd.Label, cmd.Description, cmd.InputTypeID,
		createdAt.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving command %q: %w", cmd.ID, err)
	}
	return nil
}

// LoadCatalog reads all persisted commands and builds a Catalog.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - limiter: Fuzzy match limiter for the catalog (0 for default)
func (r *Repository) LoadCatalog(ctx context.Context, limiter float64) (*Catalog, error) {
	cmds, err := r.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading command catalog: %w", err)
	}
	return NewCatalog(cmds, limiter), nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*Command, error) {
	var cmd Command
	var description, inputTypeID sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&cmd.ID, &cmd.MachineLabel, &cmd.Label,
		&description, &inputTypeID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning command: %w", err)
	}

	cmd.Description = description.String
	cmd.InputTypeID = inputTypeID.String
	cmd.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	cmd.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &cmd, nil
}
