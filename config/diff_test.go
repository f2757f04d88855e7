package config

import (
	"reflect"
	"testing"
)

func TestDiffDocuments_Empty(t *testing.T) {
	doc := DefaultDocument()
	diff := DiffDocuments(doc, doc.Clone())

	if !diff.Empty() {
		t.Errorf("expected empty diff for identical documents, got %+v", diff)
	}
	if diff.RoutesChanged() {
		t.Error("expected no route changes")
	}
}

func TestDiffDocuments_Targets(t *testing.T) {
	old := &Document{Targets: []Target{
		{ID: "keep", Name: "keep", URL: "http://a.test"},
		{ID: "gone", Name: "gone", URL: "http://b.test"},
		{ID: "edit", Name: "before", URL: "http://c.test"},
	}}
	current := &Document{Targets: []Target{
		{ID: "keep", Name: "keep", URL: "http://a.test"},
		{ID: "edit", Name: "after", URL: "http://c.test"},
		{ID: "new", Name: "new", URL: "http://d.test"},
	}}

	diff := DiffDocuments(old, current)

	if !reflect.DeepEqual(diff.TargetsAdded, []string{"new"}) {
		t.Errorf("added = %v", diff.TargetsAdded)
	}
	if !reflect.DeepEqual(diff.TargetsRemoved, []string{"gone"}) {
		t.Errorf("removed = %v", diff.TargetsRemoved)
	}
	if !reflect.DeepEqual(diff.TargetsModified, []string{"edit"}) {
		t.Errorf("modified = %v", diff.TargetsModified)
	}
	if diff.RoutesChanged() {
		t.Error("target edits must not count as route changes")
	}
}

func TestDiffDocuments_Routes(t *testing.T) {
	old := &Document{Routes: map[string]*Route{
		"/keep": {Description: "keep"},
		"/gone": {Description: "gone"},
		"/edit": {Description: "before"},
	}}
	current := &Document{Routes: map[string]*Route{
		"/keep": {Description: "keep"},
		"/edit": {Description: "after"},
		"/new":  {Description: "new"},
	}}

	diff := DiffDocuments(old, current)

	if !diff.RoutesChanged() {
		t.Fatal("expected route changes")
	}
	if !reflect.DeepEqual(diff.RoutesAdded, []string{"/new"}) {
		t.Errorf("added = %v", diff.RoutesAdded)
	}
	if !reflect.DeepEqual(diff.RoutesRemoved, []string{"/gone"}) {
		t.Errorf("removed = %v", diff.RoutesRemoved)
	}
	if !reflect.DeepEqual(diff.RoutesModified, []string{"/edit"}) {
		t.Errorf("modified = %v", diff.RoutesModified)
	}
}

func TestDiffDocuments_TemplatesAndHistory(t *testing.T) {
	old := &Document{Templates: map[string]any{"trade": map[string]any{"a": "1"}}}
	current := &Document{
		Templates:      map[string]any{"trade": map[string]any{"a": "2"}},
		MaxHistorySize: 5,
	}

	diff := DiffDocuments(old, current)

	if !diff.TemplatesChanged {
		t.Error("expected template change detected")
	}
	if !diff.HistoryResized {
		t.Error("expected history capacity change detected")
	}
	if diff.Empty() {
		t.Error("diff with template change must not be empty")
	}
}

func TestDiffDocuments_RouteModifiedDetectsPreprocess(t *testing.T) {
	old := &Document{Routes: map[string]*Route{
		"/hook": {TargetIDs: []string{"t1"}},
	}}
	current := &Document{Routes: map[string]*Route{
		"/hook": {TargetIDs: []string{"t1"}, Preprocess: &PreprocessSpec{
			AddFields: map[string]any{"source": "tv"},
		}},
	}}

	diff := DiffDocuments(old, current)
	if !reflect.DeepEqual(diff.RoutesModified, []string{"/hook"}) {
		t.Errorf("expected preprocess edit detected, got %+v", diff)
	}
}

func TestDocumentDiff_Summary(t *testing.T) {
	diff := &DocumentDiff{
		TargetsAdded: []string{"a", "b"},
		RoutesAdded:  []string{"/x"},
	}
	got := diff.Summary()
	want := "targets +2 -0 ~0, routes +1 -0 ~0, templates_changed=false"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}
