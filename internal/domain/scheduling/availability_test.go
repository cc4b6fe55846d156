package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func window(start, end time.Time) CandidateWindow {
	return CandidateWindow{Start: start, End: end, Source: SourceDirect}
}

func busyBlock(start, end time.Time) BusyInterval {
	return BusyInterval{Start: start, End: end}
}

func TestPartition_HalfOpenBoundaries(t *testing.T) {
	candidate := window(date(2026, 2, 2, 10, 0), date(2026, 2, 2, 11, 0))

	free, conflicting := Partition([]CandidateWindow{candidate}, []BusyInterval{
		busyBlock(date(2026, 2, 2, 9, 0), date(2026, 2, 2, 10, 0)),
	})
	assert.Equal(t, []CandidateWindow{candidate}, free)
	assert.Empty(t, conflicting)

	free, conflicting = Partition([]CandidateWindow{candidate}, []BusyInterval{
		busyBlock(date(2026, 2, 2, 10, 30), date(2026, 2, 2, 11, 30)),
	})
	assert.Empty(t, free)
	assert.Equal(t, []CandidateWindow{candidate}, conflicting)

	free, _ = Partition([]CandidateWindow{candidate}, []BusyInterval{
		busyBlock(date(2026, 2, 2, 11, 0), date(2026, 2, 2, 12, 0)),
	})
	assert.Len(t, free, 1, "ending exactly when a meeting starts is free")
}

func TestPartition_KeepsOrderAndHandlesOverlappingBusy(t *testing.T) {
	candidates := []CandidateWindow{
		window(date(2026, 2, 2, 9, 0), date(2026, 2, 2, 9, 30)),
		window(date(2026, 2, 2, 10, 0), date(2026, 2, 2, 10, 30)),
		window(date(2026, 2, 2, 11, 0), date(2026, 2, 2, 11, 30)),
		window(date(2026, 2, 2, 12, 0), date(2026, 2, 2, 12, 30)),
	}
	busy := []BusyInterval{
		busyBlock(date(2026, 2, 2, 10, 15), date(2026, 2, 2, 11, 5)),
		busyBlock(date(2026, 2, 2, 10, 0), date(2026, 2, 2, 10, 20)),
	}

	free, conflicting := Partition(candidates, busy)

	assert.Equal(t, []CandidateWindow{candidates[0], candidates[3]}, free)
	assert.Equal(t, []CandidateWindow{candidates[1], candidates[2]}, conflicting)
}

func TestPartition_NoBusy(t *testing.T) {
	candidates := []CandidateWindow{window(date(2026, 2, 2, 9, 0), date(2026, 2, 2, 10, 0))}
	free, conflicting := Partition(candidates, nil)
	assert.Equal(t, candidates, free)
	assert.Empty(t, conflicting)
}

func TestMergeBusy(t *testing.T) {
	merged := MergeBusy([]BusyInterval{
		{Start: date(2026, 2, 2, 14, 0), End: date(2026, 2, 2, 15, 0), EventID: "c", Title: "Review"},
		{Start: date(2026, 2, 2, 11, 0), End: date(2026, 2, 2, 12, 0), EventID: "b"},
		{Start: date(2026, 2, 2, 10, 0), End: date(2026, 2, 2, 11, 30), EventID: "a"},
		{Start: date(2026, 2, 2, 16, 0), End: date(2026, 2, 2, 16, 0), EventID: "empty"},
	})

	require.Len(t, merged, 2)
	assert.Equal(t, date(2026, 2, 2, 10, 0), merged[0].Start)
	assert.Equal(t, date(2026, 2, 2, 12, 0), merged[0].End)
	assert.Empty(t, merged[0].EventID, "merged blocks lose single-event details")
	assert.Equal(t, "c", merged[1].EventID)
	assert.Equal(t, "Review", merged[1].Title)
}

func TestPickDisjoint(t *testing.T) {
	slots := []CandidateWindow{
		window(date(2026, 2, 2, 9, 0), date(2026, 2, 2, 10, 0)),
		window(date(2026, 2, 2, 9, 30), date(2026, 2, 2, 10, 30)),
		window(date(2026, 2, 2, 10, 0), date(2026, 2, 2, 11, 0)),
		window(date(2026, 2, 2, 10, 30), date(2026, 2, 2, 11, 30)),
		window(date(2026, 2, 2, 11, 0), date(2026, 2, 2, 12, 0)),
	}

	picked := PickDisjoint(slots, 2, nil)
	assert.Equal(t, []CandidateWindow{slots[0], slots[2]}, picked)

	picked = PickDisjoint(slots, 3, []CandidateWindow{slots[0]})
	assert.Equal(t, []CandidateWindow{slots[1], slots[3]}, picked)
}

func TestFreeGaps(t *testing.T) {
	busy := []BusyInterval{
		busyBlock(date(2026, 2, 2, 8, 0), date(2026, 2, 2, 9, 30)),
		busyBlock(date(2026, 2, 2, 10, 0), date(2026, 2, 2, 11, 0)),
		busyBlock(date(2026, 2, 2, 10, 30), date(2026, 2, 2, 12, 0)),
		busyBlock(date(2026, 2, 2, 18, 0), date(2026, 2, 2, 19, 0)),
	}

	gaps := FreeGaps(busy, date(2026, 2, 2, 9, 0), date(2026, 2, 2, 17, 0), time.Hour)

	assert.Equal(t, []CandidateWindow{
		window(date(2026, 2, 2, 12, 0), date(2026, 2, 2, 17, 0)),
	}, gaps)

	gaps = FreeGaps(busy, date(2026, 2, 2, 9, 0), date(2026, 2, 2, 17, 0), 30*time.Minute)
	require.Len(t, gaps, 2)
	assert.Equal(t, date(2026, 2, 2, 9, 30), gaps[0].Start)
	assert.Equal(t, date(2026, 2, 2, 10, 0), gaps[0].End)

	assert.Nil(t, FreeGaps(nil, date(2026, 2, 2, 17, 0), date(2026, 2, 2, 9, 0), time.Minute))
}
