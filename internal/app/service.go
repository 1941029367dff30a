package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"configdeck/api/internal/config"
	"configdeck/api/internal/document"
	"configdeck/api/internal/editor"
	"configdeck/api/internal/export"
	"configdeck/api/internal/gitrepo"
	"configdeck/api/internal/jsondoc"
	"configdeck/api/internal/session"
	"configdeck/api/internal/store"
	"configdeck/api/internal/util"
)

const (
	messageSaved = "Data successfully saved to backend."
	messageReset = "Data store reset to empty."
)

// History records and serves document snapshots.
type History interface {
	Record(data []byte, message string) (gitrepo.CommitInfo, error)
	History(limit int) ([]gitrepo.CommitInfo, error)
	Get(hash string) ([]byte, gitrepo.CommitInfo, error)
}

type Service struct {
	cfg        config.Config
	documents  *store.DocumentStore
	workspaces session.Store
	history    History
	logger     logrus.FieldLogger
	now        func() time.Time
}

// New wires the service. history may be nil to disable snapshots.
func New(cfg config.Config, documents *store.DocumentStore, workspaces session.Store, history History, logger logrus.FieldLogger) *Service {
	return &Service{
		cfg:        cfg,
		documents:  documents,
		workspaces: workspaces,
		history:    history,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) map[string]error {
	return map[string]error{
		"documents":  s.documents.Ping(ctx),
		"workspaces": s.workspaces.Ping(ctx),
	}
}

// Document returns the current document encoded as indented JSON.
func (s *Service) Document() ([]byte, int64, error) {
	return s.documents.Encoded()
}

// ReplaceDocument stores raw as the new document. ifRevision of zero skips
// the revision check.
func (s *Service) ReplaceDocument(ctx context.Context, raw []byte, ifRevision int64) (int64, error) {
	doc, err := jsondoc.Parse(raw)
	if err != nil {
		return 0, domainError(http.StatusBadRequest, "INVALID_JSON", "Request body is not valid JSON", nil)
	}
	return s.replace(ctx, doc, ifRevision, "Update data")
}

func (s *Service) ResetDocument(ctx context.Context) (int64, error) {
	return s.replace(ctx, jsondoc.NewObject(), 0, "Reset data")
}

func (s *Service) replace(ctx context.Context, doc any, ifRevision int64, message string) (int64, error) {
	revision, err := s.documents.Replace(ctx, doc, ifRevision)
	switch {
	case errors.Is(err, store.ErrRevisionMismatch):
		return revision, domainError(http.StatusPreconditionFailed, "REVISION_MISMATCH", "Document was changed by someone else", map[string]any{"revision": revision})
	case errors.Is(err, store.ErrPersist):
		persistErr := domainError(http.StatusInternalServerError, "PERSIST_FAILED", "Document was updated in memory but could not be written", nil)
		persistErr.Err = err
		return revision, persistErr
	case err != nil:
		return 0, err
	}
	s.snapshot(doc, message)
	return revision, nil
}

func (s *Service) snapshot(doc any, message string) {
	if s.history == nil {
		return
	}
	data, err := jsondoc.MarshalIndent(doc, "  ")
	if err == nil {
		_, err = s.history.Record(data, message)
	}
	if err != nil {
		s.logger.WithError(err).Warn("failed to record document snapshot")
	}
}

func (s *Service) History(limit int) ([]gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, errHistoryDisabled
	}
	return s.history.History(limit)
}

func (s *Service) Snapshot(hash string) ([]byte, gitrepo.CommitInfo, error) {
	if s.history == nil {
		return nil, gitrepo.CommitInfo{}, errHistoryDisabled
	}
	return s.history.Get(hash)
}

func (s *Service) Convert(uploadName string, payload []byte) (*export.Result, error) {
	return export.Spreadsheet(uploadName, payload)
}

func (s *Service) current() *document.Document {
	root, _ := s.documents.Current()
	return document.New(root)
}

func (s *Service) Sections() []editor.Section {
	return editor.Sections(s.current())
}

func (s *Service) ApplicationSettings() []editor.Setting {
	return editor.ApplicationSettings(s.current())
}

// SaveApplication merges edits into the application record and stores the document.
func (s *Service) SaveApplication(ctx context.Context, edits *jsondoc.Object) ([]editor.Setting, int64, error) {
	updated := editor.SaveApplication(s.current(), edits)
	revision, err := s.replace(ctx, updated.Root(), 0, "Update application settings")
	if err != nil {
		return nil, revision, err
	}
	return editor.ApplicationSettings(updated), revision, nil
}

func (s *Service) CreateWorkspace(ctx context.Context) (editor.View, error) {
	w := editor.NewWorkspace(util.NewID("ws"), s.now().UTC())
	if err := s.workspaces.Save(ctx, w); err != nil {
		return editor.View{}, err
	}
	return w.Render(s.current()), nil
}

func (s *Service) Workspace(ctx context.Context, id string) (editor.View, error) {
	w, err := s.workspaces.Load(ctx, id)
	if err != nil {
		return editor.View{}, err
	}
	return w.Render(s.current()), nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, id string) error {
	return s.workspaces.Delete(ctx, id)
}

// ReloadWorkspace collapses a workspace after its client replaced the document.
func (s *Service) ReloadWorkspace(ctx context.Context, id string) error {
	_, err := s.mutate(ctx, id, func(w *editor.Workspace, _ *document.Document) error {
		w.Reload()
		return nil
	})
	return err
}

type NavigateRequest struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Index  int    `json:"index"`
}

func (s *Service) Navigate(ctx context.Context, id string, req NavigateRequest) (editor.View, error) {
	return s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		switch req.Action {
		case "root":
			return w.SelectRoot(doc, req.Key)
		case "page":
			return w.TogglePage(doc, req.Index)
		case "testset":
			return w.ToggleTestSet(doc, req.Index)
		case "testcase":
			return w.ToggleTestCase(doc, req.Index)
		default:
			return domainError(http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("unknown navigation action %q", req.Action), nil)
		}
	})
}

func (s *Service) EditCell(ctx context.Context, id string, row int, field string, value any) (editor.View, error) {
	if field == "" {
		return editor.View{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "field is required", nil)
	}
	return s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		return w.EditCell(doc, row, field, value)
	})
}

func (s *Service) AddRow(ctx context.Context, id string) (editor.View, error) {
	return s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		_, err := w.AddRow(doc)
		return err
	})
}

func (s *Service) DeleteRow(ctx context.Context, id string, row int) (editor.View, error) {
	return s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		return w.DeleteRow(doc, row)
	})
}

func (s *Service) ResetPending(ctx context.Context, id string) (editor.View, error) {
	return s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		return w.ResetPending(doc)
	})
}

func (s *Service) CancelEdits(ctx context.Context, id string) (editor.View, error) {
	return s.mutate(ctx, id, func(w *editor.Workspace, _ *document.Document) error {
		return w.Cancel()
	})
}

// SaveWorkspace commits the open collection into the document. On a failed
// write the document is already replaced in memory, so the overlay is
// cleared as well to avoid applying it twice.
func (s *Service) SaveWorkspace(ctx context.Context, id string) (editor.View, int64, error) {
	var revision int64
	var saveErr error
	view, err := s.mutate(ctx, id, func(w *editor.Workspace, doc *document.Document) error {
		updated, err := w.PrepareSave(doc)
		if err != nil {
			return err
		}
		revision, saveErr = s.replace(ctx, updated.Root(), 0, "Save "+w.Open.String())
		if saveErr != nil && !errors.Is(saveErr, store.ErrPersist) {
			return saveErr
		}
		w.Saved()
		return nil
	})
	if err != nil {
		return editor.View{}, 0, err
	}
	return view, revision, saveErr
}

// ExportWorkspace returns the document with the workspace's pending edits
// merged in, without storing it.
func (s *Service) ExportWorkspace(ctx context.Context, id string) ([]byte, error) {
	w, err := s.workspaces.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	doc := s.current()
	if w.Session != nil && w.Session.HasEdits() {
		if doc, err = w.Apply(doc); err != nil {
			return nil, err
		}
	}
	return jsondoc.MarshalIndent(doc.Root(), "  ")
}

// mutate loads a workspace, applies fn against the current document, and
// stores the result. The workspace is not saved when fn fails.
func (s *Service) mutate(ctx context.Context, id string, fn func(*editor.Workspace, *document.Document) error) (editor.View, error) {
	w, err := s.workspaces.Load(ctx, id)
	if err != nil {
		return editor.View{}, err
	}
	doc := s.current()
	if err := fn(w, doc); err != nil {
		return editor.View{}, err
	}
	w.UpdatedAt = s.now().UTC()
	if err := s.workspaces.Save(ctx, w); err != nil {
		return editor.View{}, err
	}
	return w.Render(s.current()), nil
}
