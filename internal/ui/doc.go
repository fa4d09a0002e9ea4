// Package ui implements an interactive package picker using bubbletea's Elm architecture.
//
// The TUI walks through the purchase part of a practice run:
//  1. [PackageListView] : Browse active packages; the list refreshes live from the change feed
//  2. [VoucherView] : Enter a voucher code
//  3. [ConfirmView] : Review the final price and confirm
//  4. [ResultView] : Show the created session or the error
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Catalog refreshes arrive through [Model.CatalogListener], which hands packages to the program over a buffered channel
// without blocking the feed goroutine.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, y/n, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
