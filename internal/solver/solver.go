// Package solver implements the constrained two-team partition solver of
// spec.md §4.3: an exact bitmask search for small member sets, falling back
// to a greedy placement refined by 2-opt for larger ones. It is pure,
// CPU-bound, and never performs I/O; all randomness is injected so runs are
// reproducible in tests.
package solver

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dukepan/splitrooms/internal/models"
)

const (
	labelWeight    = 5
	sizeWeight     = 3
	exactThreshold = 12
	maxTwoOptSweeps = 100

	// specialPairingProbability is the hidden, user-invisible pairing rule
	// of spec.md §4.3 / §9 Open Question 3.
	specialPairingProbability = 0.9
	specialNameA              = "葳蕤"
	specialNameB              = "兔子"
)

// Candidate is a member as seen by the solver: identity, display name (the
// hidden pairing rule keys on an exact name match), and labels.
type Candidate struct {
	ID     string
	Name   string
	Labels []models.Label
}

// Options tunes solver behavior.
type Options struct {
	// Debug requests a human-readable trace of the decisions made.
	Debug bool
	// EnableSpecialPairing gates the hidden 葳蕤/兔子 pairing rule. Exposed
	// as a flag per spec.md §9 Open Question 3; the zero value leaves the
	// rule off, and cmd/server turns it on through roomservice.New.
	EnableSpecialPairing bool
}

// Result is a two-team split plus an optional trace.
type Result struct {
	TeamA []Candidate
	TeamB []Candidate
	Trace []string
}

// Solve splits members into two teams, minimizing the weighted imbalance
// score subject to the at-most-one same_team hard constraint. rng must be
// non-nil — callers inject it so runs are reproducible.
func Solve(members []Candidate, rules models.LabelRules, rng *rand.Rand, opts Options) Result {
	n := len(members)
	if n == 0 {
		return Result{}
	}
	if n == 1 {
		return Result{TeamA: []Candidate{members[0]}}
	}

	evenLabels := evenLabelSet(rules)
	sameTeamLabel, hasSameTeam := rules.SameTeamLabel()

	side := make([]int, n) // 0 = team A, 1 = team B
	fixed := make([]bool, n)
	var trace []string

	// Hidden pairing rule: applied before all other rules.
	if opts.EnableSpecialPairing {
		iA, iB := -1, -1
		for i, m := range members {
			if m.Name == specialNameA {
				iA = i
			}
			if m.Name == specialNameB {
				iB = i
			}
		}
		if iA >= 0 && iB >= 0 && rng.Float64() < specialPairingProbability {
			s := rng.Intn(2)
			side[iA], side[iB] = s, s
			fixed[iA], fixed[iB] = true, true
			if opts.Debug {
				trace = append(trace, fmt.Sprintf("special pairing: placed both on side %d", s))
			}
		}
	}

	remaining := make([]int, 0, n)
	for i := range members {
		if !fixed[i] {
			remaining = append(remaining, i)
		}
	}

	if len(remaining) <= exactThreshold {
		side = solveExact(members, side, remaining, evenLabels, sameTeamLabel, hasSameTeam)
	} else {
		side = solveGreedy(members, side, fixed, remaining, evenLabels, sameTeamLabel, hasSameTeam, rng, &trace, opts.Debug)
	}

	result := Result{Trace: trace}
	for i, m := range members {
		if side[i] == 0 {
			result.TeamA = append(result.TeamA, m)
		} else {
			result.TeamB = append(result.TeamB, m)
		}
	}
	return result
}

// solveExact enumerates every assignment of the remaining members and keeps
// the first (lowest-mask) minimum-score assignment satisfying the hard
// constraint.
func solveExact(members []Candidate, base []int, remaining []int, evenLabels map[models.Label]bool, sameTeamLabel models.Label, hasSameTeam bool) []int {
	best := append([]int(nil), base...)
	bestScore := math.MaxInt64
	found := false
	total := 1 << uint(len(remaining))

	trial := make([]int, len(base))
	for mask := 0; mask < total; mask++ {
		copy(trial, base)
		for i, idx := range remaining {
			if mask&(1<<uint(i)) != 0 {
				trial[idx] = 1
			} else {
				trial[idx] = 0
			}
		}
		if hasSameTeam && violatesSameTeam(members, trial, sameTeamLabel) {
			continue
		}
		sc := score(members, trial, evenLabels)
		if !found || sc < bestScore {
			bestScore = sc
			best = append(best[:0], trial...)
			found = true
		}
	}
	return best
}

// solveGreedy implements the greedy placement + 2-opt fallback for n > 12.
func solveGreedy(members []Candidate, side []int, fixed []bool, remaining []int, evenLabels map[models.Label]bool, sameTeamLabel models.Label, hasSameTeam bool, rng *rand.Rand, trace *[]string, debug bool) []int {
	logf := func(format string, args ...interface{}) {
		if debug {
			*trace = append(*trace, fmt.Sprintf(format, args...))
		}
	}

	// Step 2: pin the same_team label holders to a single side.
	if hasSameTeam {
		holderSide := -1
		for i, m := range members {
			if fixed[i] && hasLabel(m, sameTeamLabel) {
				holderSide = side[i]
			}
		}
		if holderSide == -1 {
			holderSide = rng.Intn(2)
			logf("same_team label %q has no pre-assigned holder, chose side %d at random", sameTeamLabel, holderSide)
		}
		for _, idx := range remaining {
			if hasLabel(members[idx], sameTeamLabel) {
				side[idx] = holderSide
				fixed[idx] = true
			}
		}
	}

	// Step 3: sort the still-swappable members by descending even-label count.
	swappable := make([]int, 0, len(remaining))
	for _, idx := range remaining {
		if !fixed[idx] {
			swappable = append(swappable, idx)
		}
	}
	sort.SliceStable(swappable, func(i, j int) bool {
		return evenLabelCount(members[swappable[i]], evenLabels) > evenLabelCount(members[swappable[j]], evenLabels)
	})

	// Step 4: greedy placement, lower-score side wins, A on ties.
	for _, idx := range swappable {
		side[idx] = 0
		scoreA := score(members, side, evenLabels)
		side[idx] = 1
		scoreB := score(members, side, evenLabels)
		if scoreA <= scoreB {
			side[idx] = 0
		} else {
			side[idx] = 1
		}
	}

	// Step 5: 2-opt, up to maxTwoOptSweeps sweeps.
	for sweep := 0; sweep < maxTwoOptSweeps; sweep++ {
		currentScore := score(members, side, evenLabels)
		committed := false
	outer:
		for i := 0; i < len(swappable); i++ {
			for j := i + 1; j < len(swappable); j++ {
				a, b := swappable[i], swappable[j]
				if side[a] == side[b] {
					continue
				}
				side[a], side[b] = side[b], side[a]
				if hasSameTeam && violatesSameTeam(members, side, sameTeamLabel) {
					side[a], side[b] = side[b], side[a]
					continue
				}
				newScore := score(members, side, evenLabels)
				if newScore < currentScore {
					logf("2-opt sweep %d: swapped %s/%s, score %d -> %d", sweep, members[a].ID, members[b].ID, currentScore, newScore)
					committed = true
					break outer
				}
				side[a], side[b] = side[b], side[a]
			}
		}
		if !committed {
			break
		}
	}

	return side
}

func evenLabelSet(rules models.LabelRules) map[models.Label]bool {
	set := make(map[models.Label]bool)
	for _, l := range models.Labels {
		if rules.RuleFor(l) == models.RuleEven {
			set[l] = true
		}
	}
	return set
}

func evenLabelCount(m Candidate, evenLabels map[models.Label]bool) int {
	c := 0
	for _, l := range m.Labels {
		if evenLabels[l] {
			c++
		}
	}
	return c
}

func hasLabel(m Candidate, l models.Label) bool {
	for _, x := range m.Labels {
		if x == l {
			return true
		}
	}
	return false
}

func violatesSameTeam(members []Candidate, side []int, label models.Label) bool {
	seen := -1
	for i, m := range members {
		if hasLabel(m, label) {
			if seen == -1 {
				seen = side[i]
			} else if side[i] != seen {
				return true
			}
		}
	}
	return false
}

// score computes the imbalance score of the given assignment.
func score(members []Candidate, side []int, evenLabels map[models.Label]bool) int {
	countA := make(map[models.Label]int)
	countB := make(map[models.Label]int)
	sizeA, sizeB := 0, 0
	for i, m := range members {
		if side[i] == 0 {
			sizeA++
		} else {
			sizeB++
		}
		for _, l := range m.Labels {
			if !evenLabels[l] {
				continue
			}
			if side[i] == 0 {
				countA[l]++
			} else {
				countB[l]++
			}
		}
	}
	total := 0
	for l := range evenLabels {
		total += labelWeight * abs(countA[l]-countB[l])
	}
	total += sizeWeight * abs(sizeA-sizeB)
	return total
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
