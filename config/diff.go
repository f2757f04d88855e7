package config

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DocumentDiff describes what changed between two configuration documents,
// bucketed by catalogue. The engine uses it after an external reload to log
// a change summary and to skip route rebinding when no route changed.
type DocumentDiff struct {
	TargetsAdded    []string
	TargetsRemoved  []string
	TargetsModified []string

	RoutesAdded    []string
	RoutesRemoved  []string
	RoutesModified []string

	TemplatesChanged bool
	HistoryResized   bool
}

// RoutesChanged reports whether any route was added, removed or modified.
func (d *DocumentDiff) RoutesChanged() bool {
	return len(d.RoutesAdded) > 0 || len(d.RoutesRemoved) > 0 || len(d.RoutesModified) > 0
}

// Empty reports whether the two documents were equivalent.
func (d *DocumentDiff) Empty() bool {
	return len(d.TargetsAdded) == 0 && len(d.TargetsRemoved) == 0 && len(d.TargetsModified) == 0 &&
		!d.RoutesChanged() && !d.TemplatesChanged && !d.HistoryResized
}

// Summary renders the diff as a compact one-line description for logs.
func (d *DocumentDiff) Summary() string {
	return fmt.Sprintf("targets +%d -%d ~%d, routes +%d -%d ~%d, templates_changed=%t",
		len(d.TargetsAdded), len(d.TargetsRemoved), len(d.TargetsModified),
		len(d.RoutesAdded), len(d.RoutesRemoved), len(d.RoutesModified),
		d.TemplatesChanged)
}

// DiffDocuments compares two documents and identifies catalogue-level
// changes. Entries present in both sides count as modified when their
// serialized forms differ.
func DiffDocuments(old, current *Document) *DocumentDiff {
	diff := &DocumentDiff{}

	oldTargets := make(map[string]*Target, len(old.Targets))
	for i := range old.Targets {
		oldTargets[old.Targets[i].ID] = &old.Targets[i]
	}
	for i := range current.Targets {
		t := &current.Targets[i]
		prev, exists := oldTargets[t.ID]
		switch {
		case !exists:
			diff.TargetsAdded = append(diff.TargetsAdded, t.ID)
		case hashEntry(prev) != hashEntry(t):
			diff.TargetsModified = append(diff.TargetsModified, t.ID)
		}
		delete(oldTargets, t.ID)
	}
	for id := range oldTargets {
		diff.TargetsRemoved = append(diff.TargetsRemoved, id)
	}
	slices.Sort(diff.TargetsRemoved)

	for path, route := range current.Routes {
		prev, exists := old.Routes[path]
		switch {
		case !exists:
			diff.RoutesAdded = append(diff.RoutesAdded, path)
		case hashEntry(prev) != hashEntry(route):
			diff.RoutesModified = append(diff.RoutesModified, path)
		}
	}
	for path := range old.Routes {
		if _, exists := current.Routes[path]; !exists {
			diff.RoutesRemoved = append(diff.RoutesRemoved, path)
		}
	}
	slices.Sort(diff.RoutesAdded)
	slices.Sort(diff.RoutesRemoved)
	slices.Sort(diff.RoutesModified)

	diff.TemplatesChanged = hashEntry(old.Templates) != hashEntry(current.Templates)
	diff.HistoryResized = old.HistoryCapacity() != current.HistoryCapacity()

	return diff
}

// hashEntry renders a catalogue entry in a comparable form. JSON keys are
// emitted in sorted order, so equal entries always hash equal.
func hashEntry(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	return hashBytes(data)
}
