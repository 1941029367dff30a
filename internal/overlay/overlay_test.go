package overlay

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"configdeck/api/internal/document"
	"configdeck/api/internal/jsondoc"
)

func steps() []*jsondoc.Object {
	return []*jsondoc.Object{
		jsondoc.ObjectOf("testCaseId", "TC1", "seq", "1", "action", "open"),
		jsondoc.ObjectOf("testCaseId", "TC1", "seq", "2", "action", "type"),
		jsondoc.ObjectOf("testCaseId", "TC1", "seq", "3", "action", "submit"),
	}
}

// commit runs Commit over object rows and checks every result is an object.
func commit(t *testing.T, s *Session, base []*jsondoc.Object) []*jsondoc.Object {
	t.Helper()
	items := make([]any, len(base))
	for i, row := range base {
		items[i] = row
	}
	out := make([]*jsondoc.Object, 0)
	for i, item := range s.Commit(items) {
		row, ok := item.(*jsondoc.Object)
		require.True(t, ok, "committed row %d is %T", i, item)
		out = append(out, row)
	}
	return out
}

func field(t *testing.T, row *jsondoc.Object, key string) any {
	t.Helper()
	value, ok := row.Get(key)
	require.True(t, ok, "missing field %q", key)
	return value
}

func TestDisplayedLengthMatchesSurvivorsPlusAppended(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.DeleteRow(base, 0)
	s.EditField(1, "action", "paste")
	s.AddRow(base, "TC1")
	s.AddRow(base, "TC1")

	rows := s.Displayed(base)
	require.Len(t, rows, 2+2)
	assert.Equal(t, 1, rows[0].Index)
	assert.Equal(t, "paste", field(t, rows[0].Fields, "action"))
	assert.Equal(t, 2, rows[1].Index)
	assert.Equal(t, 3, rows[2].Index)
	assert.True(t, rows[2].Appended)
	assert.Equal(t, 4, rows[3].Index)
}

func TestCellValuePrecedence(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.EditField(0, "seq", "10")

	assert.Equal(t, "10", s.CellValue(base, 0, "seq"))
	assert.Equal(t, "open", s.CellValue(base, 0, "action"))
	assert.Equal(t, "", s.CellValue(base, 0, "missing"))
	assert.Equal(t, "", s.CellValue(base, 42, "seq"))
	assert.Equal(t, "", s.CellValue(base, -1, "seq"))
}

func TestCellValueTreatsNullAsMissing(t *testing.T) {
	base := []*jsondoc.Object{jsondoc.ObjectOf("testCaseId", "TC1", "seq", nil)}
	s := New(document.KindSteps)
	assert.Equal(t, "", s.CellValue(base, 0, "seq"))
}

func TestFieldNames(t *testing.T) {
	t.Run("first base row", func(t *testing.T) {
		s := New(document.KindSteps)
		assert.Equal(t, []string{"testCaseId", "seq", "action"}, s.FieldNames(steps()))
	})
	t.Run("first non-empty patch when base is empty", func(t *testing.T) {
		s := New(document.KindPageElements)
		s.EditField(2, "pageId", "P1")
		s.EditField(2, "css", "#x")
		assert.Equal(t, []string{"pageId", "css"}, s.FieldNames(nil))
	})
	t.Run("fallback per kind", func(t *testing.T) {
		assert.Equal(t, []string{"testCaseId", "seq"}, New(document.KindSteps).FieldNames(nil))
		assert.Equal(t, []string{"pageId", "name", "locator", "locatorValue"}, New(document.KindPageElements).FieldNames(nil))
	})
}

func TestDeleteBaseRowThenCommit(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.DeleteRow(base, 1)

	committed := commit(t, s, base)
	require.Len(t, committed, 2)
	assert.Equal(t, "1", field(t, committed[0], "seq"))
	assert.Equal(t, "3", field(t, committed[1], "seq"))
}

func TestDeleteDiscardsPatchOnTombstonedRow(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.EditField(1, "action", "stale")
	s.DeleteRow(base, 1)

	_, patched := s.Patches[1]
	assert.False(t, patched)
	assert.True(t, s.Tombstones[1])
	assert.False(t, s.Visible(base, 1))
}

func TestAddRowThenEditAppearsInCommit(t *testing.T) {
	base := []*jsondoc.Object{jsondoc.ObjectOf("pageId", "P1", "name", "user", "locator", "id", "locatorValue", "u")}
	s := New(document.KindPageElements)

	idx := s.AddRow(base, "P1")
	require.Equal(t, 1, idx)
	require.NotNil(t, s.Cursor)
	assert.Equal(t, 1, *s.Cursor)

	s.EditField(idx, "name", "X")
	committed := commit(t, s, base)
	require.Len(t, committed, 2)
	assert.Equal(t, "X", field(t, committed[1], "name"))
	assert.Equal(t, "P1", field(t, committed[1], "pageId"))
	assert.Equal(t, "", field(t, committed[1], "locator"))
}

func TestAddRowUsesFallbackFieldsOnEmptyCollection(t *testing.T) {
	s := New(document.KindSteps)
	idx := s.AddRow(nil, "TC9")
	assert.Equal(t, 0, idx)
	assert.Equal(t, []string{"testCaseId", "seq"}, s.Patches[idx].Keys())
	assert.Equal(t, "TC9", field(t, s.Patches[idx], "testCaseId"))
}

func TestAddRowAppendsAfterDeletedAppendedRow(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	first := s.AddRow(base, "TC1")
	s.DeleteRow(base, first)
	assert.Nil(t, s.Cursor)

	second := s.AddRow(base, "TC1")
	assert.Equal(t, first+1, second)
	assert.Len(t, commit(t, s, base), len(base)+1)
}

func TestEditingBaseFieldLeavesOtherFields(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.EditField(0, "seq", "99")

	committed := commit(t, s, base)
	assert.Equal(t, "99", field(t, committed[0], "seq"))
	assert.Equal(t, "TC1", field(t, committed[0], "testCaseId"))
	assert.Equal(t, "1", field(t, base[0], "seq"), "base row must not be mutated")
}

func TestLinkFieldKeepsParentIDAfterOtherEdits(t *testing.T) {
	s := New(document.KindSteps)
	idx := s.AddRow(steps(), "TC1")
	s.EditField(idx, "seq", "4")
	s.EditField(idx, "action", "logout")

	committed := commit(t, s, steps())
	assert.Equal(t, "TC1", field(t, committed[len(committed)-1], "testCaseId"))
}

func TestCommitIsIdempotent(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.DeleteRow(base, 2)
	s.EditField(0, "action", "navigate")
	s.AddRow(base, "TC1")

	first := commit(t, s, base)
	second := commit(t, s, base)
	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Equal(second[i]), "row %d differs", i)
	}
}

func TestCommitSkipsEmptyAppendedPatches(t *testing.T) {
	s := New(document.KindSteps)
	s.Patches = map[int]*jsondoc.Object{0: jsondoc.NewObject(), 1: jsondoc.ObjectOf("testCaseId", "TC1")}
	s.Length = 2
	assert.Len(t, commit(t, s, nil), 1)
}

func TestResetPendingOnlyBlanksCursorRow(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.EditField(0, "action", "keep")
	s.DeleteRow(base, 1)
	idx := s.AddRow(base, "TC1")
	s.EditField(idx, "seq", "4")
	s.EditField(idx, "action", "click")

	s.ResetPending(base)

	assert.Equal(t, "TC1", field(t, s.Patches[idx], "testCaseId"))
	assert.Equal(t, "", field(t, s.Patches[idx], "seq"))
	assert.Equal(t, "", field(t, s.Patches[idx], "action"))
	assert.Equal(t, "keep", field(t, s.Patches[0], "action"))
	assert.True(t, s.Tombstones[1])
	assert.Len(t, s.Displayed(base), 3)
}

func TestResetPendingWithoutCursorIsNoop(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.EditField(0, "action", "keep")
	s.ResetPending(base)
	assert.Equal(t, "keep", field(t, s.Patches[0], "action"))
}

func TestClearAndHasEdits(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	assert.False(t, s.HasEdits())

	s.DeleteRow(base, 0)
	assert.True(t, s.HasEdits())

	s.Clear()
	assert.False(t, s.HasEdits())
	assert.Len(t, s.Displayed(base), 3)
	assert.Equal(t, 3, s.AddRow(base, "TC1"))
}

func TestSessionSurvivesJSONRoundTrip(t *testing.T) {
	base := steps()
	s := New(document.KindSteps)
	s.DeleteRow(base, 1)
	idx := s.AddRow(base, "TC1")
	s.EditField(idx, "seq", "4")

	encoded, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Session
	require.NoError(t, json.Unmarshal(encoded, &decoded))
	require.NotNil(t, decoded.Cursor)
	assert.Equal(t, idx, *decoded.Cursor)
	assert.Equal(t, s.Length, decoded.Length)

	want := commit(t, s, base)
	got := commit(t, &decoded, base)
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, want[i].Equal(got[i]), "row %d differs", i)
	}
}

func TestCommitKeepsNonObjectEntries(t *testing.T) {
	items := []any{"junk", jsondoc.ObjectOf("testCaseId", "TC1", "seq", json.Number("1"))}
	base := []*jsondoc.Object{nil, items[1].(*jsondoc.Object)}
	s := New(document.KindSteps)

	assert.Equal(t, []string{"testCaseId", "seq"}, s.FieldNames(base))

	idx := s.AddRow(base, "TC1")
	assert.Equal(t, []string{"testCaseId", "seq"}, s.Patches[idx].Keys())

	committed := s.Commit(items)
	require.Len(t, committed, 3)
	assert.Equal(t, "junk", committed[0])
	appended, ok := committed[2].(*jsondoc.Object)
	require.True(t, ok)
	assert.Equal(t, "", field(t, appended, "seq"))

	rows := s.Displayed(base)
	require.Len(t, rows, 3)
	assert.Equal(t, 0, rows[0].Fields.Len())
	assert.Equal(t, "", s.CellValue(base, 0, "seq"))
}

func TestCommitReplacesEditedNonObjectEntry(t *testing.T) {
	items := []any{json.Number("7"), "junk"}
	base := []*jsondoc.Object{nil, nil}
	s := New(document.KindSteps)
	s.EditField(0, "seq", "1")
	s.DeleteRow(base, 1)

	committed := s.Commit(items)
	require.Len(t, committed, 1)
	row, ok := committed[0].(*jsondoc.Object)
	require.True(t, ok)
	assert.Equal(t, "1", field(t, row, "seq"))
}
