package data

import (
	"context"
	"database/sql"
	"fmt"
)

// =============================================================================
// COMPANY TEAM REPOSITORY
// =============================================================================

type TeamRepository struct{}

func NewTeamRepository() *TeamRepository {
	return &TeamRepository{}
}

func (r *TeamRepository) Insert(ctx context.Context, q DBTX, team *CompanyTeam) error {
	const stmt = `
		INSERT INTO company_teams (
			id, organization_id, event_year_id, team_number, name, is_paid, cancelled, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := q.ExecContext(ctx, stmt,
		team.ID, team.OrganizationID, team.EventYearID, team.TeamNumber,
		team.Name, team.IsPaid, team.Cancelled, formatTime(team.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert company team: %w", err)
	}
	return nil
}

// ListNumbers returns every team number ever claimed for an org/event-year,
// including cancelled teams. Cancelled numbers stay claimed forever so
// rosters referencing them never dangle.
func (r *TeamRepository) ListNumbers(ctx context.Context, q DBTX, orgID, eventYearID string) ([]int, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT team_number FROM company_teams
		WHERE organization_id = ? AND event_year_id = ?
		ORDER BY team_number`, orgID, eventYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to query team numbers: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan team number: %w", err)
		}
		numbers = append(numbers, n)
	}
	return numbers, rows.Err()
}

// CountActive returns the number of non-cancelled teams for an org/event-year.
func (r *TeamRepository) CountActive(ctx context.Context, q DBTX, orgID, eventYearID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM company_teams
		WHERE organization_id = ? AND event_year_id = ? AND cancelled = 0`,
		orgID, eventYearID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active teams: %w", err)
	}
	return count, nil
}

func (r *TeamRepository) ListByOrgEventYear(ctx context.Context, q DBTX, orgID, eventYearID string) ([]CompanyTeam, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, organization_id, event_year_id, team_number, name, is_paid, cancelled, created_at
		FROM company_teams
		WHERE organization_id = ? AND event_year_id = ?
		ORDER BY team_number`, orgID, eventYearID)
	if err != nil {
		return nil, fmt.Errorf("failed to query company teams: %w", err)
	}
	defer rows.Close()

	var result []CompanyTeam
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *team)
	}
	return result, rows.Err()
}

// Cancel marks a team cancelled. The row and its number are kept.
func (r *TeamRepository) Cancel(ctx context.Context, q DBTX, teamID string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE company_teams SET cancelled = 1 WHERE id = ?`, teamID)
	if err != nil {
		return fmt.Errorf("failed to cancel team: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Rename sets the team's custom name.
func (r *TeamRepository) Rename(ctx context.Context, q DBTX, teamID, name string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE company_teams SET name = ? WHERE id = ?`, name, teamID)
	if err != nil {
		return fmt.Errorf("failed to rename team: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanTeam(row rowScanner) (*CompanyTeam, error) {
	var team CompanyTeam
	var createdAt string

	err := row.Scan(&team.ID, &team.OrganizationID, &team.EventYearID,
		&team.TeamNumber, &team.Name, &team.IsPaid, &team.Cancelled, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan company team: %w", err)
	}

	if team.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &team, nil
}
