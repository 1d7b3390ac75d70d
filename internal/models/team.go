package models

import (
	"errors"
	"sort"
	"strings"
)

// ErrTeamNameRequired is returned when a team has no name.
var ErrTeamNameRequired = errors.New("team name is required")

// Team is reference data owned by the collaborator's registry.
type Team struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MemberIDs []int64 `json:"memberIds"`
}

// HasMember reports whether userID belongs to the team.
func (t Team) HasMember(userID int64) bool {
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Validate checks the team name and member ids.
func (t *Team) Validate() error {
	validation := &ValidationErrors{}
	if strings.TrimSpace(t.Name) == "" {
		validation.Add("name", ErrTeamNameRequired)
	}
	for _, id := range t.MemberIDs {
		if id <= 0 {
			validation.AddMessage("memberIds", "member ids must be positive")
			break
		}
	}
	return validation.Err()
}

// NormalizeMemberIDs de-duplicates and sorts member ids, dropping invalid ones.
func NormalizeMemberIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
