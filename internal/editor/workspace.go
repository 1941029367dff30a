// Package editor holds the navigation state of one editing client and the
// overlay session of whichever row collection it has open.
package editor

import (
	"errors"
	"fmt"
	"time"

	"configdeck/api/internal/document"
	"configdeck/api/internal/jsondoc"
	"configdeck/api/internal/overlay"
)

var (
	ErrUnknownSection = errors.New("unknown section")
	ErrNotExpandable  = errors.New("record has no nested rows")
	ErrNoCollection   = errors.New("no collection is open")
	ErrRowNotFound    = errors.New("row not found")
	ErrReadOnlyField  = errors.New("field is not editable")
	ErrNoChanges      = errors.New("no local changes to save")
)

// Navigation records what is expanded. Nil means collapsed.
type Navigation struct {
	ActiveRoot       string `json:"activeRoot,omitempty"`
	ExpandedPage     *int   `json:"expandedPage,omitempty"`
	ExpandedTestSet  *int   `json:"expandedTestSet,omitempty"`
	ExpandedTestCase *int   `json:"expandedTestCase,omitempty"`
}

// Workspace is one client's editing session.
type Workspace struct {
	ID         string           `json:"id"`
	Navigation Navigation       `json:"navigation"`
	Open       *document.Ref    `json:"open,omitempty"`
	Session    *overlay.Session `json:"session,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `json:"updatedAt"`
}

func NewWorkspace(id string, now time.Time) *Workspace {
	return &Workspace{ID: id, CreatedAt: now, UpdatedAt: now}
}

// SelectRoot activates a sidebar section and collapses everything below it.
func (w *Workspace) SelectRoot(doc *document.Document, key string) error {
	if _, ok := doc.Section(key); !ok || key == document.SectionApplication {
		return fmt.Errorf("%w: %s", ErrUnknownSection, key)
	}
	w.Navigation = Navigation{ActiveRoot: key}
	w.sync()
	if w.Session != nil {
		w.Session.Clear()
	}
	return nil
}

// TogglePage expands or collapses a page of pageConfig.
func (w *Workspace) TogglePage(doc *document.Document, index int) error {
	if w.Navigation.ActiveRoot != document.SectionPageConfig {
		return fmt.Errorf("%w: pages live under %s", ErrUnknownSection, document.SectionPageConfig)
	}
	if err := expandable(doc.Pages(), index, string(document.KindPageElements)); err != nil {
		return err
	}
	w.Navigation.ExpandedPage = toggle(w.Navigation.ExpandedPage, index)
	w.sync()
	return nil
}

// ToggleTestSet expands or collapses a test set. Any expanded test case collapses.
func (w *Workspace) ToggleTestSet(doc *document.Document, index int) error {
	if !isTestsetSection(w.Navigation.ActiveRoot) {
		return fmt.Errorf("%w: test sets live under %s", ErrUnknownSection, document.SectionTestsetConfig)
	}
	if err := expandable(doc.TestSets(w.Navigation.ActiveRoot), index, "testCases"); err != nil {
		return err
	}
	w.Navigation.ExpandedTestSet = toggle(w.Navigation.ExpandedTestSet, index)
	w.Navigation.ExpandedTestCase = nil
	w.sync()
	return nil
}

// ToggleTestCase expands or collapses a test case of the expanded test set.
func (w *Workspace) ToggleTestCase(doc *document.Document, index int) error {
	if !isTestsetSection(w.Navigation.ActiveRoot) || w.Navigation.ExpandedTestSet == nil {
		return fmt.Errorf("%w: expand a test set first", ErrNotExpandable)
	}
	cases := doc.TestCases(w.Navigation.ActiveRoot, *w.Navigation.ExpandedTestSet)
	if err := expandable(cases, index, string(document.KindSteps)); err != nil {
		return err
	}
	w.Navigation.ExpandedTestCase = toggle(w.Navigation.ExpandedTestCase, index)
	w.sync()
	return nil
}

// Reload forgets navigation and pending edits after the document was swapped out.
func (w *Workspace) Reload() {
	w.Navigation = Navigation{}
	w.Open = nil
	w.Session = nil
}

// Base returns the stored rows of the open collection.
func (w *Workspace) Base(doc *document.Document) ([]*jsondoc.Object, error) {
	if w.Open == nil || w.Session == nil {
		return nil, ErrNoCollection
	}
	return doc.Rows(*w.Open), nil
}

// EditCell applies a cell edit from the table. The link field is read-only.
func (w *Workspace) EditCell(doc *document.Document, row int, field string, value any) error {
	base, err := w.Base(doc)
	if err != nil {
		return err
	}
	if field == w.Open.Kind.LinkField() {
		return fmt.Errorf("%w: %s", ErrReadOnlyField, field)
	}
	if !w.Session.Visible(base, row) {
		return fmt.Errorf("%w: %d", ErrRowNotFound, row)
	}
	w.Session.EditField(row, field, value)
	return nil
}

// AddRow appends a row linked to the open collection's parent.
func (w *Workspace) AddRow(doc *document.Document) (int, error) {
	base, err := w.Base(doc)
	if err != nil {
		return 0, err
	}
	if _, err := doc.Parent(*w.Open); err != nil {
		return 0, err
	}
	return w.Session.AddRow(base, doc.ParentID(*w.Open)), nil
}

func (w *Workspace) DeleteRow(doc *document.Document, row int) error {
	base, err := w.Base(doc)
	if err != nil {
		return err
	}
	if !w.Session.Visible(base, row) {
		return fmt.Errorf("%w: %d", ErrRowNotFound, row)
	}
	w.Session.DeleteRow(base, row)
	return nil
}

func (w *Workspace) ResetPending(doc *document.Document) error {
	base, err := w.Base(doc)
	if err != nil {
		return err
	}
	w.Session.ResetPending(base)
	return nil
}

// Cancel drops every pending edit of the open collection.
func (w *Workspace) Cancel() error {
	if w.Session == nil {
		return ErrNoCollection
	}
	w.Session.Clear()
	return nil
}

// Apply returns a copy of doc with the pending edits merged into the open
// collection. doc itself is not modified, and the session is kept: callers
// clear it once the result is persisted.
func (w *Workspace) Apply(doc *document.Document) (*document.Document, error) {
	if w.Open == nil || w.Session == nil {
		return nil, ErrNoCollection
	}
	if _, err := doc.Parent(*w.Open); err != nil {
		return nil, err
	}
	committed := w.Session.Commit(doc.Items(*w.Open))
	updated := doc.Clone()
	if err := updated.SetRows(*w.Open, committed); err != nil {
		return nil, err
	}
	return updated, nil
}

// PrepareSave is Apply for the save button: it refuses when nothing changed.
func (w *Workspace) PrepareSave(doc *document.Document) (*document.Document, error) {
	if w.Session == nil || !w.Session.HasEdits() {
		return nil, ErrNoChanges
	}
	return w.Apply(doc)
}

// Saved clears the session after its result was stored.
func (w *Workspace) Saved() {
	if w.Session != nil {
		w.Session.Clear()
	}
}

// sync points the workspace at the collection the navigation opens and resets
// the overlay when that collection changed.
func (w *Workspace) sync() {
	next := w.Navigation.openRef()
	if sameRef(w.Open, next) {
		return
	}
	w.Open = next
	if next == nil {
		w.Session = nil
		return
	}
	w.Session = overlay.New(next.Kind)
}

func (n Navigation) openRef() *document.Ref {
	switch {
	case n.ActiveRoot == document.SectionPageConfig && n.ExpandedPage != nil:
		return &document.Ref{Kind: document.KindPageElements, Section: n.ActiveRoot, Page: *n.ExpandedPage}
	case isTestsetSection(n.ActiveRoot) && n.ExpandedTestSet != nil && n.ExpandedTestCase != nil:
		return &document.Ref{
			Kind:     document.KindSteps,
			Section:  n.ActiveRoot,
			TestSet:  *n.ExpandedTestSet,
			TestCase: *n.ExpandedTestCase,
		}
	}
	return nil
}

func sameRef(a, b *document.Ref) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func isTestsetSection(key string) bool {
	return key == document.SectionTestsetConfig || key == document.SectionTestsetFlattened
}

func expandable(items []any, index int, childKey string) error {
	if _, err := document.Record(items, index); err != nil {
		return fmt.Errorf("%w: %v", ErrRowNotFound, err)
	}
	if !document.HasChildren(items, index, childKey) {
		return fmt.Errorf("%w: index %d has no %s", ErrNotExpandable, index, childKey)
	}
	return nil
}

func toggle(current *int, index int) *int {
	if current != nil && *current == index {
		return nil
	}
	return &index
}
