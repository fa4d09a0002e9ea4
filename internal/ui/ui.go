package ui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/models"
	"github.com/desertthunder/rehearse/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	PackageListView ViewState = iota
	VoucherView
	ConfirmView
	ResultView
)

// Engine is the part of [tasks.Engine] the picker drives.
type Engine interface {
	ListPackages(ctx context.Context) ([]models.Package, error)
	ApplyVoucher(ctx context.Context, code string) (*models.Voucher, error)
	SelectPackage(ctx context.Context, id string) (*models.Session, error)
	State() tasks.State
}

// Model represents the TUI application state.
type Model struct {
	ctx         context.Context
	view        ViewState
	engine      Engine
	width       int
	height      int
	packageList list.Model
	packages    []models.Package
	selected    *models.Package
	voucher     *models.Voucher
	input       textinput.Model
	catalog     chan []models.Package
	session     *models.Session
	notice      string
	err         error
	help        help.Model
	keys        keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, engine Engine) *Model {
	input := textinput.New()
	input.Placeholder = "SAVE10"
	input.CharLimit = 32
	input.Prompt = "Voucher: "

	m := &Model{
		ctx:     ctx,
		view:    PackageListView,
		engine:  engine,
		input:   input,
		catalog: make(chan []models.Package, 4),
		help:    help.New(),
		keys:    newKeyMap(),
	}
	m.packageList = list.New(nil, list.NewDefaultDelegate(), 0, 0)
	m.packageList.Title = "Interview Packages"
	m.voucher = engine.State().Voucher
	return m
}

// CatalogListener returns a callback for [tasks.Engine.StartNotifier]. Refreshes that arrive while one is
// still pending are dropped; the pending one already carries a recent catalog.
func (m *Model) CatalogListener() tasks.CatalogListener {
	return func(packages []models.Package) {
		select {
		case m.catalog <- packages:
		default:
		}
	}
}

// Session returns the session created in this run, if any.
func (m *Model) Session() *models.Session { return m.session }

// Init fetches the catalog and starts listening for live changes.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.fetchPackages(), m.waitForCatalog())
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.packageList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		switch m.view {
		case PackageListView:
			return m.handlePackageListKeys(msg)
		case VoucherView:
			return m.handleVoucherKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateComponents(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgPackagesFetched:
		res := msg.data.(packagesResult)
		if res.err != nil {
			m.err = res.err
			return m, nil
		}
		m.err = nil
		m.setPackages(res.packages)
		return m, nil

	case MsgCatalogChanged:
		m.setPackages(msg.data.([]models.Package))
		m.notice = fmt.Sprintf("Catalog updated (%d packages)", len(m.packages))
		return m, m.waitForCatalog()

	case MsgVoucherApplied:
		res := msg.data.(voucherResult)
		m.view = PackageListView
		m.input.Blur()
		if res.err != nil {
			m.voucher = nil
			m.notice = styles.err.Render(res.err.Error())
			return m, nil
		}
		m.voucher = res.voucher
		m.notice = styles.ok.Render(fmt.Sprintf("Voucher %q applied! You get %g%% off.", res.voucher.Code, res.voucher.Discount))
		return m, nil

	case MsgSessionCreated:
		res := msg.data.(sessionResult)
		m.session = res.session
		m.err = res.err
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// setPackages replaces the list items, keeping the selected package if it is still offered.
func (m *Model) setPackages(packages []models.Package) {
	m.packages = packages
	m.packageList.SetItems(packageItems(packages))

	if m.selected == nil {
		return
	}
	for i, p := range packages {
		if p.ID == m.selected.ID {
			m.packageList.Select(i)
			m.selected = &packages[i]
			return
		}
	}
	m.selected = nil
	if m.view == ConfirmView {
		m.view = PackageListView
		m.notice = styles.warn.Render("The selected package is no longer available")
	}
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case PackageListView:
		return m.renderPackageList()
	case VoucherView:
		return m.renderVoucher()
	case ConfirmView:
		return m.renderConfirm()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handlePackageListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.packageList.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.packageList, cmd = m.packageList.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.voucher):
		m.view = VoucherView
		m.input.SetValue("")
		return m, m.input.Focus()
	case key.Matches(msg, m.keys.refresh):
		m.notice = ""
		return m, m.fetchPackages()
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.packageList.SelectedItem().(packageItem); ok {
			pkg := item.pkg
			m.selected = &pkg
			m.view = ConfirmView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.packageList, cmd = m.packageList.Update(msg)
	return m, cmd
}

func (m *Model) handleVoucherKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "esc":
		m.input.Blur()
		m.view = PackageListView
		return m, nil
	case "enter":
		return m, m.applyVoucher(m.input.Value())
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "n", "esc":
		m.view = PackageListView
		return m, nil
	case "y":
		if m.selected == nil {
			m.view = PackageListView
			return m, nil
		}
		return m, m.createSession(m.selected.ID)
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		m.view = PackageListView
		m.selected = nil
		m.session = nil
		m.err = nil
		m.notice = ""
		return m, nil
	}
	return m, nil
}

func (m *Model) updateComponents(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case PackageListView:
		m.packageList, cmd = m.packageList.Update(msg)
	case VoucherView:
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchPackages() tea.Cmd {
	return func() tea.Msg {
		packages, err := m.engine.ListPackages(m.ctx)
		return packagesFetchedMsg(packages, err)
	}
}

func (m *Model) waitForCatalog() tea.Cmd {
	return func() tea.Msg {
		select {
		case packages := <-m.catalog:
			return catalogChangedMsg(packages)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m *Model) applyVoucher(code string) tea.Cmd {
	return func() tea.Msg {
		v, err := m.engine.ApplyVoucher(m.ctx, code)
		return voucherAppliedMsg(v, err)
	}
}

func (m *Model) createSession(packageID string) tea.Cmd {
	return func() tea.Msg {
		s, err := m.engine.SelectPackage(m.ctx, packageID)
		return sessionCreatedMsg(s, err)
	}
}

func (m *Model) renderPackageList() string {
	helpKeys := []key.Binding{m.keys.enter, m.keys.voucher, m.keys.refresh, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	status := ""
	if m.voucher != nil {
		status = styles.ok.Render(fmt.Sprintf("Voucher %s (-%g%%)", m.voucher.Code, m.voucher.Discount)) + "\n"
	}
	if m.notice != "" {
		status += m.notice + "\n"
	}
	return fmt.Sprintf("%s\n%s\n%s", m.packageList.View(), status, helpView)
}

func (m *Model) renderVoucher() string {
	title := styles.title.Render("Apply a voucher")
	helpView := m.help.ShortHelpView([]key.Binding{
		key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
		m.keys.back,
	})
	return fmt.Sprintf("%s\n%s\n\n%s", title, m.input.View(), helpView)
}

func (m *Model) renderConfirm() string {
	pkg := m.selected
	title := styles.title.Render(fmt.Sprintf("Start a %s session?", pkg.Name))

	final := tasks.FinalPrice(pkg, m.voucher)
	price := "$" + formatter.Price(final)
	if final != pkg.Price {
		price = fmt.Sprintf("%s %s", styles.strike.Render("$"+formatter.Price(pkg.Price)), styles.ok.Render(price))
	}
	info := styles.box.Render(fmt.Sprintf("Questions: %d\nPrice: %s", pkg.Questions, price))

	helpKeys := []key.Binding{m.keys.yes, m.keys.no}
	helpView := m.help.ShortHelpView(helpKeys)

	return fmt.Sprintf("%s\n%s\n\n%s", title, info, helpView)
}

func (m *Model) renderResult() string {
	helpKeys := []key.Binding{m.keys.restart, m.keys.quit}
	helpView := m.help.ShortHelpView(helpKeys)

	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Session could not be created: %v", m.err)) + "\n\n" + helpView
	}
	if m.session == nil {
		return styles.err.Render("No session available") + "\n\n" + helpView
	}

	title := styles.ok.Render("✓ Session created successfully!")
	info := fmt.Sprintf(
		"\nPackage: %s\nQuestions: %d\nPaid: $%s\nSession: %s",
		m.session.PackageName,
		m.session.QuestionsCount,
		formatter.Price(m.session.FinalPrice),
		m.session.ID,
	)
	next := styles.help.Render("\nRecord answers with `rehearse response save`.")
	return fmt.Sprintf("%s\n%s\n%s\n\n%s", title, info, next, helpView)
}
