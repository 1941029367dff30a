package editor

import (
	"configdeck/api/internal/document"
	"configdeck/api/internal/jsondoc"
)

// Setting is one row of the application settings dialog.
type Setting struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Value any    `json:"value"`
}

// ApplicationSettings lists the application record's fields.
func ApplicationSettings(doc *document.Document) []Setting {
	app, _ := doc.Application()
	out := make([]Setting, 0, app.Len())
	for _, key := range app.Keys() {
		value, _ := app.Get(key)
		if value == nil {
			value = ""
		}
		out = append(out, Setting{Key: key, Title: FormatHeader(key), Value: value})
	}
	return out
}

// SaveApplication returns a copy of doc whose application record has edits
// merged over it. The stored shape (object or single-element array) is kept;
// a document without an application record gets an object.
func SaveApplication(doc *document.Document, edits *jsondoc.Object) *document.Document {
	updated := doc.Clone()
	current, asArray := updated.Application()
	if current == nil {
		current = jsondoc.NewObject()
	}
	updated.SetApplication(current.Merge(edits), asArray)
	return updated
}
