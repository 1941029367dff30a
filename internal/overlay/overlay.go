// Package overlay tracks pending row edits for one nested collection (test-case
// steps or page elements) and merges them with the collection as stored.
//
// Rows are addressed by position. Indices below len(base) are base rows; the
// rest are rows appended during the session. A Session never holds the base
// collection itself: every operation that needs it takes it as an argument, so
// the caller decides which document snapshot the session is applied to.
package overlay

import (
	"sort"

	"configdeck/api/internal/document"
	"configdeck/api/internal/jsondoc"
)

// Session is the pending edit state of one open collection.
type Session struct {
	Kind document.Kind `json:"kind"`
	// Patches maps a row index to the fields the user changed on it. For
	// appended rows the patch is the whole row.
	Patches map[int]*jsondoc.Object `json:"patches,omitempty"`
	// Tombstones holds base indices deleted in this session.
	Tombstones map[int]bool `json:"tombstones,omitempty"`
	// Cursor is the most recently appended row, if any.
	Cursor *int `json:"cursor,omitempty"`
	// Length is one past the highest index ever given a patch.
	Length int `json:"length"`
}

// DisplayedRow is one visible row of the merged view.
type DisplayedRow struct {
	Index    int
	Fields   *jsondoc.Object
	Appended bool
}

func New(kind document.Kind) *Session {
	return &Session{Kind: kind}
}

// Displayed merges base and patches: surviving base rows in base order, then
// appended rows in append order. Tombstoned rows are left out.
func (s *Session) Displayed(base []*jsondoc.Object) []DisplayedRow {
	rows := make([]DisplayedRow, 0, len(base)+len(s.Patches))
	for i, row := range base {
		if s.Tombstones[i] {
			continue
		}
		rows = append(rows, DisplayedRow{Index: i, Fields: row.Merge(s.Patches[i])})
	}
	for _, i := range s.appendedIndices(len(base)) {
		rows = append(rows, DisplayedRow{Index: i, Fields: s.Patches[i].Clone(), Appended: true})
	}
	return rows
}

// CellValue is the patched value of field, else the base value, else "".
func (s *Session) CellValue(base []*jsondoc.Object, row int, field string) any {
	if value, ok := s.Patches[row].Get(field); ok && value != nil {
		return value
	}
	if row >= 0 && row < len(base) {
		if value, ok := base[row].Get(field); ok && value != nil {
			return value
		}
	}
	return ""
}

// FieldNames is the column set: keys of the first base row that is an object,
// else of the first non-empty patch in index order, else the kind's fallback.
func (s *Session) FieldNames(base []*jsondoc.Object) []string {
	for _, row := range base {
		if row != nil {
			return row.Keys()
		}
	}
	for _, i := range s.sortedPatchIndices() {
		if patch := s.Patches[i]; patch.Len() > 0 {
			return patch.Keys()
		}
	}
	return s.Kind.FallbackFields()
}

// EditField records value for field on row. The link field is not guarded here.
func (s *Session) EditField(row int, field string, value any) {
	if row < 0 {
		return
	}
	if s.Patches == nil {
		s.Patches = make(map[int]*jsondoc.Object)
	}
	patch, ok := s.Patches[row]
	if !ok || patch == nil {
		patch = jsondoc.NewObject()
		s.Patches[row] = patch
	}
	patch.Set(field, value)
	if row >= s.Length {
		s.Length = row + 1
	}
}

// AddRow appends a blank row carrying parentID in the link field and returns its index.
func (s *Session) AddRow(base []*jsondoc.Object, parentID any) int {
	fields := s.FieldNames(base)
	link := s.Kind.LinkField()

	row := jsondoc.NewObject()
	if !contains(fields, link) {
		row.Set(link, parentID)
	}
	for _, field := range fields {
		if field == link {
			row.Set(field, parentID)
			continue
		}
		row.Set(field, "")
	}

	index := s.Length
	if len(base) > index {
		index = len(base)
	}
	if s.Patches == nil {
		s.Patches = make(map[int]*jsondoc.Object)
	}
	s.Patches[index] = row
	s.Length = index + 1
	s.Cursor = &index
	return index
}

// DeleteRow tombstones a base row or drops an appended one. Patches on a
// tombstoned row are discarded so they cannot come back.
func (s *Session) DeleteRow(base []*jsondoc.Object, row int) {
	if row < 0 {
		return
	}
	if row < len(base) {
		if s.Tombstones == nil {
			s.Tombstones = make(map[int]bool)
		}
		s.Tombstones[row] = true
	}
	delete(s.Patches, row)
	if s.Cursor != nil && *s.Cursor == row {
		s.Cursor = nil
	}
}

// Commit builds the collection to write back from the stored entries. Entries
// that are not objects are kept as they are unless the session edited them.
// It does not modify the session.
func (s *Session) Commit(items []any) []any {
	out := make([]any, 0, len(items)+len(s.Patches))
	for i, item := range items {
		if s.Tombstones[i] {
			continue
		}
		patch := s.Patches[i]
		row, ok := item.(*jsondoc.Object)
		switch {
		case ok:
			out = append(out, row.Merge(patch))
		case patch != nil:
			out = append(out, patch.Clone())
		default:
			out = append(out, item)
		}
	}
	for _, i := range s.appendedIndices(len(items)) {
		if s.Patches[i].Len() == 0 {
			continue
		}
		out = append(out, s.Patches[i].Clone())
	}
	return out
}

// ResetPending blanks every non-link field of the row at the cursor. Other
// patches and tombstones are kept.
func (s *Session) ResetPending(base []*jsondoc.Object) {
	if s.Cursor == nil {
		return
	}
	index := *s.Cursor
	link := s.Kind.LinkField()

	reset := jsondoc.NewObject()
	if current, ok := s.Patches[index]; ok {
		if value, has := current.Get(link); has {
			reset.Set(link, value)
		}
	}
	for _, field := range s.FieldNames(base) {
		if field == link {
			continue
		}
		reset.Set(field, "")
	}
	if s.Patches == nil {
		s.Patches = make(map[int]*jsondoc.Object)
	}
	s.Patches[index] = reset
}

// Clear drops all pending state.
func (s *Session) Clear() {
	s.Patches = nil
	s.Tombstones = nil
	s.Cursor = nil
	s.Length = 0
}

// HasEdits reports whether there is anything to save.
func (s *Session) HasEdits() bool {
	for _, patch := range s.Patches {
		if patch != nil {
			return true
		}
	}
	for _, deleted := range s.Tombstones {
		if deleted {
			return true
		}
	}
	return false
}

// Visible reports whether row is part of the displayed view.
func (s *Session) Visible(base []*jsondoc.Object, row int) bool {
	if row < 0 {
		return false
	}
	if row < len(base) {
		return !s.Tombstones[row]
	}
	_, ok := s.Patches[row]
	return ok
}

func (s *Session) appendedIndices(baseLen int) []int {
	out := make([]int, 0)
	for _, i := range s.sortedPatchIndices() {
		if i >= baseLen && s.Patches[i] != nil {
			out = append(out, i)
		}
	}
	return out
}

func (s *Session) sortedPatchIndices() []int {
	out := make([]int, 0, len(s.Patches))
	for i := range s.Patches {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
