package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/passportvault/passportvault/internal/domain"
)

// CreateStudent inserts a new record. A matric number collision surfaces as
// domain.ErrDuplicateMatric so the HTTP layer can answer 400 instead of 500.
func (s *PersistentStore) CreateStudent(ctx context.Context, st *domain.Student) error {
	var dbo studentDBO
	dbo.FromDomain(st)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO students (id, department, matric_number, level, passport_url, object_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dbo.ID, dbo.Department, dbo.MatricNumber, dbo.Level, dbo.PassportURL, dbo.ObjectKey, dbo.CreatedAt,
	)
	if err != nil {
		// modernc/sqlite reports constraint violations as plain errors
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return domain.ErrDuplicateMatric
		}
		return fmt.Errorf("failed to insert student %s: %w", st.MatricNumber, err)
	}

	return nil
}

// ListStudents returns records matching the filter, newest first. An empty
// filter matches everything.
func (s *PersistentStore) ListStudents(ctx context.Context, filter domain.StudentFilter) ([]domain.Student, error) {
	query := `
		SELECT id, department, matric_number, level, passport_url, object_key, created_at
		FROM students`

	var clauses []string
	var args []any

	if filter.Department != "" {
		clauses = append(clauses, "department = ?")
		args = append(args, filter.Department)
	}
	if filter.Level != "" {
		clauses = append(clauses, "level = ?")
		args = append(args, filter.Level)
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list students: %w", err)
	}
	defer rows.Close()

	var students []domain.Student
	for rows.Next() {
		var dbo studentDBO
		if err := rows.Scan(&dbo.ID, &dbo.Department, &dbo.MatricNumber, &dbo.Level,
			&dbo.PassportURL, &dbo.ObjectKey, &dbo.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, *dbo.ToDomain())
	}

	return students, rows.Err()
}

// GetStudent fetches a single record by id.
func (s *PersistentStore) GetStudent(ctx context.Context, id string) (*domain.Student, error) {
	query := `
		SELECT id, department, matric_number, level, passport_url, object_key, created_at
		FROM students
		WHERE id = ? LIMIT 1`

	var dbo studentDBO
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&dbo.ID, &dbo.Department, &dbo.MatricNumber, &dbo.Level,
		&dbo.PassportURL, &dbo.ObjectKey, &dbo.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	return dbo.ToDomain(), nil
}

// DeleteStudent removes a record. Deleting an unknown id returns
// domain.ErrNotFound, which makes a second delete of the same id a 404.
func (s *PersistentStore) DeleteStudent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM students WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete student %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}

	return nil
}

// Departments returns the distinct department names present in the table,
// for the admin filter dropdown.
func (s *PersistentStore) Departments(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT department FROM students ORDER BY department")
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer rows.Close()

	var departments []string
	for rows.Next() {
		var dept string
		if err := rows.Scan(&dept); err != nil {
			return nil, err
		}
		departments = append(departments, dept)
	}

	return departments, rows.Err()
}
