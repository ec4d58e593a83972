// Package rotation implements the payout turn-taking rules for giro groups.
// All functions are pure: they operate on member snapshots loaded by the
// caller and perform no I/O, so concurrent callers can be serialized by the
// store's uniqueness constraints rather than application locks.
package rotation

import (
	"errors"
	"sort"

	"github.com/giroclub/giroclub-backend/internal/models"
)

var (
	ErrOutOfTurn       = errors.New("member is not next in the payout rotation")
	ErrAlreadyReceived = errors.New("member already received a payout this cycle")
	ErrGroupNotFull    = errors.New("group has not reached its member capacity")
	ErrNotAMember      = errors.New("profile is not a member of this group")
	ErrGroupFull       = errors.New("group is full")
)

// NextEligiblePosition returns the minimum position among members that have
// not yet received a payout. ok is false when every member has received,
// meaning the cycle is complete and must be advanced by the group service.
func NextEligiblePosition(members []models.Member) (position int, ok bool) {
	for _, m := range members {
		if m.HasReceived {
			continue
		}
		if !ok || m.Position < position {
			position = m.Position
			ok = true
		}
	}
	return position, ok
}

// CanRequestPayout reports whether member may request the payout right now.
// Eligibility failures are returned as sentinel errors and must be surfaced
// to the caller verbatim; none of them is retryable.
func CanRequestPayout(member *models.Member, members []models.Member, group *models.Group) error {
	if member == nil {
		return ErrNotAMember
	}
	if member.HasReceived {
		return ErrAlreadyReceived
	}
	if len(members) < group.MaxMembers {
		return ErrGroupNotFull
	}
	next, ok := NextEligiblePosition(members)
	if !ok || member.Position != next {
		return ErrOutOfTurn
	}
	return nil
}

// AssignPosition returns the smallest position in [1, maxMembers] not held by
// any current member. Join order thereby determines payout order. The result
// is only a candidate: the ledger's unique (group_id, position) constraint is
// the arbiter between concurrent joiners, and a constraint violation means
// retry with a fresh snapshot.
func AssignPosition(members []models.Member, maxMembers int) (int, error) {
	taken := make([]int, 0, len(members))
	for _, m := range members {
		taken = append(taken, m.Position)
	}
	sort.Ints(taken)

	candidate := 1
	for _, p := range taken {
		if p > candidate {
			break
		}
		if p == candidate {
			candidate++
		}
	}
	if candidate > maxMembers {
		return 0, ErrGroupFull
	}
	return candidate, nil
}
