package scheduling

import (
	"time"
)

// Proposal is the outcome of one search: the windows offered and the
// relaxation step that produced them.
type Proposal struct {
	Windows []CandidateWindow `json:"windows"`
	Step    Source            `json:"step"`
}

// Empty reports whether nothing could be offered.
func (p Proposal) Empty() bool {
	return len(p.Windows) == 0
}

// Generator searches for alternatives when the direct reading of a
// constraint has no free slot.
type Generator struct {
	resolver *Resolver
}

// NewGenerator builds a generator sharing the resolver's policy.
func NewGenerator(resolver *Resolver) *Generator {
	return &Generator{resolver: resolver}
}

// Propose relaxes c in a fixed order and stops at the first step yielding a
// free slot:
//
//  1. time-of-day widened to any (only when one is set)
//  2. day preferences widened to adjacent days, then to the whole week
//     (only when days are set)
//  3. latest bound pushed out one week at a time, up to the maximum horizon
//
// Relaxations are cumulative; duration and anchor never change. The result
// holds up to maxResults pairwise disjoint slots in chronological order, all
// tagged with the step that found them, skipping spans listed in exclude.
// An empty proposal means the maximum horizon is exhausted.
func (g *Generator) Propose(c TemporalConstraint, meta CalendarMeta, busy []BusyInterval, maxResults int, exclude []CandidateWindow) (Proposal, error) {
	if missing := c.MissingFields(); len(missing) > 0 {
		return Proposal{}, Incomplete(missing...)
	}
	if maxResults <= 0 {
		maxResults = g.resolver.cfg.MaxAlternatives
	}
	for _, exp := range g.relaxations(c, meta.Now) {
		windows, err := g.resolver.expand(c, meta, exp)
		if err != nil {
			return Proposal{}, err
		}
		free, _ := Partition(g.resolver.Slots(windows, *c.Duration), busy)
		if picked := PickDisjoint(free, maxResults, exclude); len(picked) > 0 {
			return Proposal{Windows: picked, Step: exp.source}, nil
		}
	}
	return Proposal{}, nil
}

// Steps lists the relaxation steps Propose would try for c, in order.
func (g *Generator) Steps(c TemporalConstraint, now time.Time) []Source {
	var steps []Source
	for _, exp := range g.relaxations(c, now) {
		steps = append(steps, exp.source)
	}
	return steps
}

func (g *Generator) relaxations(c TemporalConstraint, now time.Time) []expansion {
	cur := directExpansion(c)
	var steps []expansion

	if cur.timeOfDay != TimeOfDayNone {
		cur.timeOfDay = TimeOfDayNone
		cur.source = SourceTimeOfDayWidened
		steps = append(steps, cur)
	}

	// Anchors pin the day, so only time-of-day can loosen around them.
	if c.Anchor != nil {
		return steps
	}

	if len(cur.preferred) > 0 {
		var adjacent []DayPreference
		for _, p := range cur.preferred {
			adjacent = append(adjacent, p.Adjacent()...)
		}
		cur.widened = adjacent
		cur.source = SourceDayWidened
		steps = append(steps, cur)

		cur.anyDay = true
		cur.widened = nil
		cur.source = SourceWeekWidened
		steps = append(steps, cur)
	}

	for weeks := 1; !g.resolver.horizonExhausted(c, now, weeks-1); weeks++ {
		cur.extraWeeks = weeks
		cur.source = SourceHorizonWidened
		steps = append(steps, cur)
	}
	return steps
}
