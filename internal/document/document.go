// Package document navigates the test-configuration document: sections,
// application settings, pages, test sets, test cases and their row collections.
package document

import (
	"errors"
	"fmt"

	"configdeck/api/internal/jsondoc"
)

const (
	SectionApplication      = "application"
	SectionPageConfig       = "pageConfig"
	SectionTestsetConfig    = "testsetConfig"
	SectionTestsetFlattened = "testsetConfigFlattend"
)

var (
	// ErrParentMissing means the record a collection hangs off is gone from the document.
	ErrParentMissing = errors.New("parent record missing")
	ErrOutOfRange    = errors.New("index out of range")
)

// Kind names a nested row collection.
type Kind string

const (
	KindSteps        Kind = "steps"
	KindPageElements Kind = "pageElements"
)

// LinkField is the parent-identifier field auto-populated on new rows.
func (k Kind) LinkField() string {
	switch k {
	case KindSteps:
		return "testCaseId"
	case KindPageElements:
		return "pageId"
	}
	return ""
}

// FallbackFields is the column set used when no row carries any field.
func (k Kind) FallbackFields() []string {
	switch k {
	case KindSteps:
		return []string{"testCaseId", "seq"}
	case KindPageElements:
		return []string{"pageId", "name", "locator", "locatorValue"}
	}
	return nil
}

// Ref addresses one nested row collection.
type Ref struct {
	Kind     Kind   `json:"kind"`
	Section  string `json:"section"`
	Page     int    `json:"page"`
	TestSet  int    `json:"testSet"`
	TestCase int    `json:"testCase"`
}

func (r Ref) String() string {
	if r.Kind == KindPageElements {
		return fmt.Sprintf("%s[%d].pageElements", r.Section, r.Page)
	}
	return fmt.Sprintf("%s.testsets[%d].testCases[%d].steps", r.Section, r.TestSet, r.TestCase)
}

// Document wraps a parsed JSON document. The zero value is an empty document.
type Document struct {
	root any
}

func New(root any) *Document {
	return &Document{root: root}
}

// Root returns the wrapped value.
func (d *Document) Root() any {
	return d.root
}

// Data returns the `data` section map, or nil when the document has none.
func (d *Document) Data() *jsondoc.Object {
	root, ok := d.root.(*jsondoc.Object)
	if !ok {
		return nil
	}
	value, _ := root.Get("data")
	data, _ := value.(*jsondoc.Object)
	return data
}

// Sections lists the root sections shown in the sidebar; application is edited separately.
func (d *Document) Sections() []string {
	data := d.Data()
	out := make([]string, 0, data.Len())
	for _, key := range data.Keys() {
		if key == SectionApplication {
			continue
		}
		out = append(out, key)
	}
	return out
}

// Section returns the raw value of a named section.
func (d *Document) Section(key string) (any, bool) {
	data := d.Data()
	if data == nil {
		return nil, false
	}
	return data.Get(key)
}

// Application returns the application record normalized to an object and
// whether it was stored as a single-element array.
func (d *Document) Application() (*jsondoc.Object, bool) {
	value, ok := d.Section(SectionApplication)
	if !ok {
		return nil, false
	}
	switch app := value.(type) {
	case *jsondoc.Object:
		return app, false
	case []any:
		if len(app) == 0 {
			return nil, true
		}
		first, _ := app[0].(*jsondoc.Object)
		return first, true
	}
	return nil, false
}

// SetApplication writes the application record back, as a single-element
// array when asArray is set.
func (d *Document) SetApplication(app *jsondoc.Object, asArray bool) {
	data := d.ensureData()
	if asArray {
		data.Set(SectionApplication, []any{app})
		return
	}
	data.Set(SectionApplication, app)
}

// Pages returns the pageConfig records.
func (d *Document) Pages() []any {
	value, _ := d.Section(SectionPageConfig)
	pages, _ := value.([]any)
	return pages
}

// TestSets returns the test sets of a testset section.
func (d *Document) TestSets(section string) []any {
	value, _ := d.Section(section)
	config, ok := value.(*jsondoc.Object)
	if !ok {
		return nil
	}
	raw, _ := config.Get("testsets")
	sets, _ := raw.([]any)
	return sets
}

// TestCases returns the test cases of one test set.
func (d *Document) TestCases(section string, testSet int) []any {
	set, ok := at(d.TestSets(section), testSet)
	if !ok {
		return nil
	}
	return arrayField(set, "testCases")
}

// Parent returns the record the referenced collection hangs off.
func (d *Document) Parent(ref Ref) (*jsondoc.Object, error) {
	var (
		parent *jsondoc.Object
		ok     bool
	)
	switch ref.Kind {
	case KindPageElements:
		parent, ok = at(d.Pages(), ref.Page)
	case KindSteps:
		parent, ok = at(d.TestCases(ref.Section, ref.TestSet), ref.TestCase)
	default:
		return nil, fmt.Errorf("unknown collection kind %q", ref.Kind)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParentMissing, ref)
	}
	return parent, nil
}

// ParentID is the identifier copied into the link field of new rows.
func (d *Document) ParentID(ref Ref) any {
	parent, err := d.Parent(ref)
	if err != nil {
		return ""
	}
	return IdentifierOf(ref.Kind, parent)
}

// IdentifierOf reads the parent identifier: a test case's id, a page's pageId or id.
func IdentifierOf(kind Kind, parent *jsondoc.Object) any {
	candidates := []string{"id"}
	if kind == KindPageElements {
		candidates = []string{"pageId", "id"}
	}
	for _, key := range candidates {
		if value, ok := parent.Get(key); ok && jsondoc.Truthy(value) {
			return value
		}
	}
	return ""
}

// Items returns the stored entries of a collection as they are.
func (d *Document) Items(ref Ref) []any {
	parent, err := d.Parent(ref)
	if err != nil {
		return nil
	}
	return arrayField(parent, string(ref.Kind))
}

// Rows returns the base rows of a collection. Entries that are not objects
// come back as nil so positions stay stable; they display as empty rows.
func (d *Document) Rows(ref Ref) []*jsondoc.Object {
	raw := d.Items(ref)
	rows := make([]*jsondoc.Object, len(raw))
	for i, item := range raw {
		rows[i], _ = item.(*jsondoc.Object)
	}
	return rows
}

// SetRows replaces the referenced collection in place.
func (d *Document) SetRows(ref Ref, items []any) error {
	parent, err := d.Parent(ref)
	if err != nil {
		return err
	}
	parent.Set(string(ref.Kind), items)
	return nil
}

// Clone deep-copies the document so edits do not leak into shared snapshots.
func (d *Document) Clone() *Document {
	return New(jsondoc.DeepCopy(d.root))
}

func (d *Document) ensureData() *jsondoc.Object {
	root, ok := d.root.(*jsondoc.Object)
	if !ok {
		root = jsondoc.NewObject()
		d.root = root
	}
	data := d.Data()
	if data == nil {
		data = jsondoc.NewObject()
		root.Set("data", data)
	}
	return data
}

func at(items []any, index int) (*jsondoc.Object, bool) {
	if index < 0 || index >= len(items) {
		return nil, false
	}
	obj, ok := items[index].(*jsondoc.Object)
	return obj, ok
}

func arrayField(obj *jsondoc.Object, key string) []any {
	value, _ := obj.Get(key)
	items, _ := value.([]any)
	return items
}

// HasChildren reports whether the record at index can be expanded.
func HasChildren(items []any, index int, childKey string) bool {
	record, ok := at(items, index)
	if !ok {
		return false
	}
	value, has := record.Get(childKey)
	return has && value != nil
}

// Record returns the object at index, or ErrOutOfRange.
func Record(items []any, index int) (*jsondoc.Object, error) {
	record, ok := at(items, index)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOutOfRange, index)
	}
	return record, nil
}
