package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/rehearse/internal/models"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgPackagesFetched MsgKind = iota
	MsgCatalogChanged
	MsgVoucherApplied
	MsgSessionCreated
)

type packagesResult struct {
	packages []models.Package
	err      error
}

type voucherResult struct {
	voucher *models.Voucher
	err     error
}

type sessionResult struct {
	session *models.Session
	err     error
}

// packagesFetchedMsg is the constructor for [MsgPackagesFetched]
func packagesFetchedMsg(packages []models.Package, err error) Msg {
	return Msg{kind: MsgPackagesFetched, data: packagesResult{packages, err}}
}

// catalogChangedMsg is the constructor for [MsgCatalogChanged]
func catalogChangedMsg(packages []models.Package) Msg {
	return Msg{kind: MsgCatalogChanged, data: packages}
}

// voucherAppliedMsg is the constructor for [MsgVoucherApplied]
func voucherAppliedMsg(v *models.Voucher, err error) Msg {
	return Msg{kind: MsgVoucherApplied, data: voucherResult{v, err}}
}

// sessionCreatedMsg is the constructor for [MsgSessionCreated]
func sessionCreatedMsg(s *models.Session, err error) Msg {
	return Msg{kind: MsgSessionCreated, data: sessionResult{s, err}}
}
