package msgdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tOgg1/casechat/internal/models"
	"github.com/tOgg1/casechat/internal/msgapi"
)

func (s *Store) isMember(ctx context.Context, teamID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ?`, teamID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check team membership: %w", err)
	}
	return n > 0, nil
}

func (s *Store) team(ctx context.Context, id int64) (models.Team, error) {
	var team models.Team
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM teams WHERE id = ?`, id).Scan(&team.ID, &team.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Team{}, fmt.Errorf("team %d: %w", id, ErrNotFound)
		}
		return models.Team{}, fmt.Errorf("failed to read team: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM team_members WHERE team_id = ? ORDER BY user_id`, id)
	if err != nil {
		return models.Team{}, fmt.Errorf("failed to read team members: %w", err)
	}
	defer rows.Close()
	team.MemberIDs = make([]int64, 0)
	for rows.Next() {
		var member int64
		if err := rows.Scan(&member); err != nil {
			return models.Team{}, fmt.Errorf("failed to scan team member: %w", err)
		}
		team.MemberIDs = append(team.MemberIDs, member)
	}
	if err := rows.Err(); err != nil {
		return models.Team{}, fmt.Errorf("team member query error: %w", err)
	}
	return team, nil
}

// ListTeams implements msgapi.Service. Only teams the viewer belongs to are
// listed.
func (v *View) ListTeams(ctx context.Context) ([]models.Team, error) {
	rows, err := v.store.db.QueryContext(ctx, `
		SELECT t.id FROM teams t
		JOIN team_members tm ON tm.team_id = t.id
		WHERE tm.user_id = ?
		ORDER BY t.id`, v.viewer)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("team query error: %w", err)
	}
	rows.Close()

	teams := make([]models.Team, 0, len(ids))
	for _, id := range ids {
		team, err := v.store.team(ctx, id)
		if err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, nil
}

// CreateTeam implements msgapi.Service. The creator always becomes a member.
func (v *View) CreateTeam(ctx context.Context, req msgapi.TeamRequest) (models.Team, error) {
	team := models.Team{
		Name:      strings.TrimSpace(req.Name),
		MemberIDs: models.NormalizeMemberIDs(append(append([]int64(nil), req.MemberIDs...), v.viewer)),
	}
	if err := team.Validate(); err != nil {
		return models.Team{}, err
	}

	err := v.store.transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO teams (name, created_at) VALUES (?, ?)`,
			team.Name, formatTime(v.store.now()))
		if err != nil {
			return fmt.Errorf("failed to create team: %w", err)
		}
		team.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read team id: %w", err)
		}
		return replaceMembers(ctx, tx, team.ID, team.MemberIDs)
	})
	if err != nil {
		return models.Team{}, err
	}
	return team, nil
}

// UpdateTeam implements msgapi.Service. Only members may update a team.
func (v *View) UpdateTeam(ctx context.Context, id int64, req msgapi.TeamRequest) (models.Team, error) {
	current, err := v.store.team(ctx, id)
	if err != nil {
		return models.Team{}, err
	}
	if !current.HasMember(v.viewer) {
		return models.Team{}, fmt.Errorf("update team %d: %w", id, ErrForbidden)
	}

	team := models.Team{ID: id, Name: strings.TrimSpace(req.Name), MemberIDs: models.NormalizeMemberIDs(req.MemberIDs)}
	if err := team.Validate(); err != nil {
		return models.Team{}, err
	}

	err = v.store.transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE teams SET name = ? WHERE id = ?`, team.Name, id); err != nil {
			return fmt.Errorf("failed to update team: %w", err)
		}
		return replaceMembers(ctx, tx, id, team.MemberIDs)
	})
	if err != nil {
		return models.Team{}, err
	}
	return team, nil
}

func replaceMembers(ctx context.Context, tx *sql.Tx, teamID int64, members []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM team_members WHERE team_id = ?`, teamID); err != nil {
		return fmt.Errorf("failed to clear team members: %w", err)
	}
	for _, member := range members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO team_members (team_id, user_id) VALUES (?, ?)`, teamID, member); err != nil {
			return fmt.Errorf("failed to add team member: %w", err)
		}
	}
	return nil
}
