package ui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/shared"
	"github.com/desertthunder/rehearse/internal/tasks"
)

type fakeEngine struct {
	packages   []models.Package
	listErr    error
	voucher    *models.Voucher
	voucherErr error
	session    *models.Session
	sessionErr error
	selected   string
}

func (f *fakeEngine) ListPackages(context.Context) ([]models.Package, error) {
	return f.packages, f.listErr
}

func (f *fakeEngine) ApplyVoucher(_ context.Context, code string) (*models.Voucher, error) {
	if f.voucherErr != nil {
		return nil, f.voucherErr
	}
	return f.voucher, nil
}

func (f *fakeEngine) SelectPackage(_ context.Context, id string) (*models.Session, error) {
	f.selected = id
	return f.session, f.sessionErr
}

func (f *fakeEngine) State() tasks.State { return tasks.State{} }

func catalog() []models.Package {
	return []models.Package{
		{ID: "pkg-basic", Name: "Basic", Price: 50, Questions: 3, Active: true},
		{ID: "pkg-pro", Name: "Pro", Price: 100, Questions: 5, Active: true},
	}
}

func newTestModel(e *fakeEngine) *Model {
	m := NewModel(context.Background(), e)
	m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	m.Update(packagesFetchedMsg(e.packages, e.listErr))
	return m
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// run executes a command and feeds its message back into the model.
func run(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	m.Update(cmd())
}

func TestModel(t *testing.T) {
	t.Run("lists packages", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		if m.view != PackageListView {
			t.Fatalf("expected package list view, got %d", m.view)
		}
		if len(m.packageList.Items()) != 2 {
			t.Errorf("expected 2 items, got %d", len(m.packageList.Items()))
		}
		if !strings.Contains(m.View(), "Basic") {
			t.Errorf("view missing package name")
		}
	})

	t.Run("fetch error", func(t *testing.T) {
		m := newTestModel(&fakeEngine{listErr: shared.ErrAPIRequest})
		if !strings.Contains(m.View(), "Error:") {
			t.Errorf("expected error view, got %q", m.View())
		}
	})

	t.Run("select and confirm creates session", func(t *testing.T) {
		e := &fakeEngine{
			packages: catalog(),
			session:  &models.Session{ID: "session-1", PackageName: "Basic", QuestionsCount: 3, FinalPrice: 50},
		}
		m := newTestModel(e)

		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if m.view != ConfirmView {
			t.Fatalf("expected confirm view, got %d", m.view)
		}
		if !strings.Contains(m.View(), "Start a Basic session?") {
			t.Errorf("confirm view missing title: %q", m.View())
		}

		_, cmd := m.Update(keyRunes("y"))
		run(t, m, cmd)

		if e.selected != "pkg-basic" {
			t.Errorf("expected pkg-basic to be selected, got %q", e.selected)
		}
		if m.view != ResultView || m.Session() == nil {
			t.Fatalf("expected result view with session")
		}
		if !strings.Contains(m.View(), "Session created successfully!") {
			t.Errorf("result view missing success message")
		}
	})

	t.Run("session error shows in result", func(t *testing.T) {
		e := &fakeEngine{packages: catalog(), sessionErr: shared.ErrPrecondition}
		m := newTestModel(e)
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		_, cmd := m.Update(keyRunes("y"))
		run(t, m, cmd)

		if !strings.Contains(m.View(), "please log in and select a package first") {
			t.Errorf("expected precondition error, got %q", m.View())
		}

		m.Update(keyRunes("r"))
		if m.view != PackageListView || m.err != nil {
			t.Errorf("restart should return to a clean list")
		}
	})

	t.Run("decline returns to list", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		m.Update(keyRunes("n"))
		if m.view != PackageListView {
			t.Errorf("expected list view, got %d", m.view)
		}
	})

	t.Run("voucher applied", func(t *testing.T) {
		e := &fakeEngine{packages: catalog(), voucher: &models.Voucher{Code: "SAVE10", Discount: 10, Active: true}}
		m := newTestModel(e)

		m.Update(keyRunes("v"))
		if m.view != VoucherView {
			t.Fatalf("expected voucher view, got %d", m.view)
		}
		m.Update(keyRunes("SAVE10"))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		run(t, m, cmd)

		if m.view != PackageListView || m.voucher == nil {
			t.Fatalf("expected voucher to be applied")
		}
		if !strings.Contains(m.View(), "SAVE10") {
			t.Errorf("list view should show the voucher")
		}

		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if !strings.Contains(m.View(), "45.00") {
			t.Errorf("confirm view should show discounted price, got %q", m.View())
		}
	})

	t.Run("voucher rejected", func(t *testing.T) {
		e := &fakeEngine{packages: catalog(), voucherErr: errors.Join(shared.ErrInvalidVoucher)}
		m := newTestModel(e)
		m.Update(keyRunes("v"))
		_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		run(t, m, cmd)

		if m.voucher != nil {
			t.Errorf("voucher should be cleared")
		}
		if !strings.Contains(m.View(), "invalid or inactive voucher code") {
			t.Errorf("expected voucher error in view")
		}
	})

	t.Run("voucher escape", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		m.Update(keyRunes("v"))
		m.Update(tea.KeyMsg{Type: tea.KeyEsc})
		if m.view != PackageListView {
			t.Errorf("expected list view after esc")
		}
	})

	t.Run("live catalog refresh", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})

		updated := append(catalog(), models.Package{ID: "pkg-new", Name: "Starter", Price: 5, Questions: 1, Active: true})
		m.CatalogListener()(updated)

		run(t, m, m.waitForCatalog())
		if len(m.packageList.Items()) != 3 {
			t.Errorf("expected 3 items after refresh, got %d", len(m.packageList.Items()))
		}
		if !strings.Contains(m.View(), "Catalog updated (3 packages)") {
			t.Errorf("expected refresh notice")
		}
	})

	t.Run("listener never blocks", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		listener := m.CatalogListener()
		for range 10 {
			listener(catalog())
		}
	})

	t.Run("removed package leaves confirm view", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		if m.view != ConfirmView {
			t.Fatalf("expected confirm view")
		}

		m.Update(catalogChangedMsg(catalog()[1:]))
		if m.view != PackageListView || m.selected != nil {
			t.Errorf("expected selection to be dropped")
		}
	})

	t.Run("quit", func(t *testing.T) {
		m := newTestModel(&fakeEngine{packages: catalog()})
		_, cmd := m.Update(keyRunes("q"))
		if cmd == nil {
			t.Fatal("expected quit command")
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("expected tea.QuitMsg")
		}
	})
}
