package engine

import (
	"sort"

	"github.com/roach88/reprowatch/internal/model"
	"github.com/roach88/reprowatch/internal/state"
)

// DiffResult is the outcome of comparing a log against recorded state.
type DiffResult struct {
	// New holds unrecorded versions, ascending by version code.
	New []model.BuildRecord

	// Duplicates holds records discarded because a later record in the
	// log carried the same version code.
	Duplicates []model.BuildRecord

	// SharedLabels holds records discarded because a later record with a
	// different version code carried the same version label.
	SharedLabels []model.BuildRecord

	// LabelRecorded holds records with an unrecorded version code whose
	// label is already recorded, under another code or none.
	LabelRecorded []model.BuildRecord
}

// Diff returns the records that are not yet in seen.
//
// A record is seen when its version code or its version label is recorded.
// When several records share a version code, and then when several of the
// remaining records share a label, the one appearing last in records wins.
// Diff does not modify its inputs.
func Diff(records []model.BuildRecord, seen state.AppState) DiffResult {
	var res DiffResult

	lastCode := make(map[int64]int, len(records))
	for i, rec := range records {
		if j, ok := lastCode[rec.VersionCode]; ok {
			res.Duplicates = append(res.Duplicates, records[j])
		}
		lastCode[rec.VersionCode] = i
	}

	kept := make([]int, 0, len(lastCode))
	for _, i := range lastCode {
		kept = append(kept, i)
	}
	sort.Ints(kept)

	lastLabel := make(map[string]int, len(kept))
	for _, i := range kept {
		label := records[i].Version
		if j, ok := lastLabel[label]; ok {
			res.SharedLabels = append(res.SharedLabels, records[j])
		}
		lastLabel[label] = i
	}

	for _, i := range lastLabel {
		rec := records[i]
		switch {
		case seen.HasCode(rec.VersionCode):
			// published on an earlier run
		case seen.HasLabel(rec.Version):
			res.LabelRecorded = append(res.LabelRecorded, rec)
		default:
			res.New = append(res.New, rec)
		}
	}
	byCode := func(s []model.BuildRecord) {
		sort.Slice(s, func(i, j int) bool { return s[i].VersionCode < s[j].VersionCode })
	}
	byCode(res.New)
	byCode(res.SharedLabels)
	byCode(res.LabelRecorded)
	return res
}
