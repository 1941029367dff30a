package editor

import (
	"regexp"
	"strings"

	"configdeck/api/internal/document"
	"configdeck/api/internal/jsondoc"
)

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// FormatHeader turns a field key into a column title: "locatorValue" and
// "locator_value" both become "Locator Value".
func FormatHeader(key string) string {
	if key == "" {
		return ""
	}
	spaced := strings.ReplaceAll(key, "_", " ")
	spaced = camelBoundary.ReplaceAllString(spaced, "$1 $2")
	words := strings.Split(spaced, " ")
	for i, word := range words {
		if word == "" {
			continue
		}
		runes := []rune(word)
		words[i] = strings.ToUpper(string(runes[0])) + strings.ToLower(string(runes[1:]))
	}
	return strings.Join(words, " ")
}

type Column struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Editable bool   `json:"editable"`
}

type Row struct {
	Index  int   `json:"index"`
	Number int   `json:"number"`
	Cells  []any `json:"cells"`
	New    bool  `json:"new"`
}

// CollectionView is the table for the open collection.
type CollectionView struct {
	Ref       document.Ref `json:"ref"`
	Title     string       `json:"title"`
	LinkField string       `json:"linkField"`
	Columns   []Column     `json:"columns"`
	Rows      []Row        `json:"rows"`
	Dirty     bool         `json:"dirty"`
}

// View is what the client renders for a workspace.
type View struct {
	ID         string          `json:"id"`
	Sections   []Section       `json:"sections"`
	Navigation Navigation      `json:"navigation"`
	Collection *CollectionView `json:"collection,omitempty"`
}

type Section struct {
	Key   string `json:"key"`
	Title string `json:"title"`
}

// Sections lists the sidebar entries of doc.
func Sections(doc *document.Document) []Section {
	keys := doc.Sections()
	out := make([]Section, 0, len(keys))
	for _, key := range keys {
		out = append(out, Section{Key: key, Title: FormatHeader(key)})
	}
	return out
}

// Render builds the view of w against doc.
func (w *Workspace) Render(doc *document.Document) View {
	view := View{
		ID:         w.ID,
		Sections:   Sections(doc),
		Navigation: w.Navigation,
	}
	if w.Open == nil || w.Session == nil {
		return view
	}
	parent, err := doc.Parent(*w.Open)
	if err != nil {
		return view
	}

	base := doc.Rows(*w.Open)
	link := w.Open.Kind.LinkField()
	fields := w.Session.FieldNames(base)

	collection := &CollectionView{
		Ref:       *w.Open,
		Title:     collectionTitle(w.Open.Kind, parent),
		LinkField: link,
		Columns:   make([]Column, 0, len(fields)),
		Rows:      make([]Row, 0, len(base)),
		Dirty:     w.Session.HasEdits(),
	}
	for _, key := range fields {
		collection.Columns = append(collection.Columns, Column{Key: key, Title: FormatHeader(key), Editable: key != link})
	}
	for _, displayed := range w.Session.Displayed(base) {
		row := Row{
			Index:  displayed.Index,
			Number: displayed.Index + 1,
			Cells:  make([]any, 0, len(fields)),
			New:    w.Session.Cursor != nil && *w.Session.Cursor == displayed.Index,
		}
		for _, key := range fields {
			row.Cells = append(row.Cells, w.Session.CellValue(base, displayed.Index, key))
		}
		collection.Rows = append(collection.Rows, row)
	}
	view.Collection = collection
	return view
}

func collectionTitle(kind document.Kind, parent *jsondoc.Object) string {
	prefix := "Steps for"
	if kind == document.KindPageElements {
		prefix = "Page Elements"
	}
	name, _ := parent.Get("name")
	if text, ok := name.(string); ok && text != "" {
		return prefix + " " + text
	}
	return prefix
}
