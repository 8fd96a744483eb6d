package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists custom roles and member assignments. Built-in roles live in
// code and are only mirrored in the database for referential integrity.
type Store interface {
	// ListOrganizations returns every organization that has custom roles or assignments
	ListOrganizations(ctx context.Context) ([]string, error)
	// ListRoles returns the custom roles of an organization
	ListRoles(ctx context.Context, orgID string) ([]Role, error)
	// ListAssignments returns the member assignments of an organization
	ListAssignments(ctx context.Context, orgID string) ([]Assignment, error)
	// CreateRole inserts a custom role and sets its ID
	CreateRole(ctx context.Context, role *Role) error
	// AssignRole creates or replaces a member's role in an organization
	AssignRole(ctx context.Context, a *Assignment) error
	// DeleteRole reassigns every holder of roleID to fallbackRoleID and removes
	// the role, atomically. It returns the number of reassigned members.
	DeleteRole(ctx context.Context, roleID int64, orgID string, fallbackRoleID int64) (int64, error)
}

// SQLStore implements Store on database/sql. The queries use $N placeholders
// and run on PostgreSQL (lib/pq) and SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a new store
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// ListOrganizations implements Store
func (s *SQLStore) ListOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id FROM roles WHERE organization_id IS NOT NULL
		UNION
		SELECT organization_id FROM member_roles
		ORDER BY 1
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

// ListRoles implements Store
func (s *SQLStore) ListRoles(ctx context.Context, orgID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, organization_id, level, is_default, permissions, created_at, updated_at
		FROM roles
		WHERE organization_id = $1
		ORDER BY level DESC, name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		var role Role
		var permissionsJSON string
		var org sql.NullString
		if err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&org,
			&role.Level,
			&role.IsDefault,
			&permissionsJSON,
			&role.CreatedAt,
			&role.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal permissions of role %s: %w", role.Name, err)
		}
		role.OrganizationID = org.String
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// ListAssignments implements Store
func (s *SQLStore) ListAssignments(ctx context.Context, orgID string) ([]Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT member_id, organization_id, role_id, assigned_at
		FROM member_roles
		WHERE organization_id = $1
		ORDER BY member_id
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.MemberID, &a.OrganizationID, &a.RoleID, &a.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// CreateRole implements Store
func (s *SQLStore) CreateRole(ctx context.Context, role *Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, description, organization_id, level, is_default, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		role.Name,
		role.Description,
		role.OrganizationID,
		role.Level,
		false,
		string(permissionsJSON),
		now,
		now,
	).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// AssignRole implements Store
func (s *SQLStore) AssignRole(ctx context.Context, a *Assignment) error {
	if a.AssignedAt.IsZero() {
		a.AssignedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO member_roles (member_id, organization_id, role_id, assigned_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (member_id, organization_id)
		DO UPDATE SET role_id = excluded.role_id, assigned_at = excluded.assigned_at
	`, a.MemberID, a.OrganizationID, a.RoleID, a.AssignedAt)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// DeleteRole implements Store. The reassignment runs first so the role row is
// never deleted while an assignment still references it.
func (s *SQLStore) DeleteRole(ctx context.Context, roleID int64, orgID string, fallbackRoleID int64) (int64, error) {
	var reassigned int64
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE member_roles SET role_id = $1, assigned_at = $2
			WHERE role_id = $3 AND organization_id = $4
		`, fallbackRoleID, time.Now().UTC(), roleID, orgID)
		if err != nil {
			return fmt.Errorf("failed to reassign members: %w", err)
		}
		if reassigned, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count reassigned members: %w", err)
		}

		res, err = tx.ExecContext(ctx, `
			DELETE FROM roles WHERE id = $1 AND organization_id = $2 AND is_default = $3
		`, roleID, orgID, false)
		if err != nil {
			return fmt.Errorf("failed to delete role: %w", err)
		}
		deleted, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count deleted roles: %w", err)
		}
		if deleted == 0 {
			return ErrRoleNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return reassigned, nil
}

// withTx runs fn in a transaction, committing on success and rolling back
// on error
func withTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
