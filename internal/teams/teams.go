// internal/teams/teams.go
package teams

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"regbackend/internal/data"
	"regbackend/internal/logger"
	"regbackend/internal/order"
)

// Synchronizer derives an organization's team slots from what it has paid
// for. Teams are never created directly: the paid team-registration quantity
// is the source of truth, and Sync converges the company_teams rows to it.
type Synchronizer struct {
	orders *data.OrderRepository
	teams  *data.TeamRepository
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{
		orders: data.NewOrderRepository(),
		teams:  data.NewTeamRepository(),
	}
}

// Sync creates any missing team rows for an org/event-year so that the
// active team count matches the paid team-registration quantity. Idempotent:
// re-running after convergence creates nothing. Numbers are assigned lowest
// unused first, and a cancelled team's number is never handed out again.
//
// Sync never cancels surplus teams; refunds reduce the paid count but an
// admin decides which team folds, via CancelTeam.
func (s *Synchronizer) Sync(ctx context.Context, orgID, eventYearID string) ([]data.CompanyTeam, error) {
	var created []data.CompanyTeam

	err := data.WithTx(ctx, func(tx *sql.Tx) error {
		created = nil

		paidCount, err := s.paidTeamCount(ctx, tx, orgID, eventYearID)
		if err != nil {
			return err
		}
		active, err := s.teams.CountActive(ctx, tx, orgID, eventYearID)
		if err != nil {
			return err
		}
		if paidCount <= active {
			return nil
		}

		// All numbers ever claimed, cancelled included.
		claimed, err := s.teams.ListNumbers(ctx, tx, orgID, eventYearID)
		if err != nil {
			return err
		}

		next := 1
		for i := active; i < paidCount; i++ {
			for slices.Contains(claimed, next) {
				next++
			}
			team := data.CompanyTeam{
				ID:             uuid.NewString(),
				OrganizationID: orgID,
				EventYearID:    eventYearID,
				TeamNumber:     next,
				Name:           fmt.Sprintf("Team %d", next),
				IsPaid:         true,
				CreatedAt:      time.Now(),
			}
			if err := s.teams.Insert(ctx, tx, &team); err != nil {
				return err
			}
			claimed = append(claimed, next)
			created = append(created, team)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(created) > 0 {
		logger.LogInfo("Team sync created %d team(s) for org %s in event year %s",
			len(created), orgID, eventYearID)
	}
	return created, nil
}

// paidTeamCount sums team-registration quantities across the org's orders in
// paid statuses.
func (s *Synchronizer) paidTeamCount(ctx context.Context, tx *sql.Tx, orgID, eventYearID string) (int, error) {
	orders, err := s.orders.ListByOrgEventYear(ctx, tx, orgID, eventYearID, order.PaidStatuses())
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range orders {
		items, err := s.orders.GetItems(ctx, tx, orders[i].ID)
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			if item.Category == data.CategoryTeamRegistration {
				count += item.Quantity
			}
		}
	}
	return count, nil
}

// List returns all team rows for an org/event-year, cancelled included.
func (s *Synchronizer) List(ctx context.Context, orgID, eventYearID string) ([]data.CompanyTeam, error) {
	dbConn, err := data.GetDB()
	if err != nil {
		return nil, err
	}
	return s.teams.ListByOrgEventYear(ctx, dbConn, orgID, eventYearID)
}

// CancelTeam folds a team while keeping its row and number claimed.
func (s *Synchronizer) CancelTeam(ctx context.Context, teamID string) error {
	dbConn, err := data.GetDB()
	if err != nil {
		return err
	}
	return s.teams.Cancel(ctx, dbConn, teamID)
}

// RenameTeam sets a custom display name.
func (s *Synchronizer) RenameTeam(ctx context.Context, teamID, name string) error {
	dbConn, err := data.GetDB()
	if err != nil {
		return err
	}
	return s.teams.Rename(ctx, dbConn, teamID, name)
}
