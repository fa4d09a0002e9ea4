package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/rehearse/internal/formatter"
	"github.com/desertthunder/rehearse/internal/models"
)

var _ list.Item = packageItem{}

// packageItem wraps [models.Package] to implement [list.Item].
type packageItem struct {
	pkg models.Package
}

func (i packageItem) FilterValue() string { return i.pkg.Name }
func (i packageItem) Title() string       { return i.pkg.Name }
func (i packageItem) Description() string {
	return fmt.Sprintf("$%s • %d questions", formatter.Price(i.pkg.Price), i.pkg.Questions)
}

func packageItems(packages []models.Package) []list.Item {
	items := make([]list.Item, len(packages))
	for i, p := range packages {
		items[i] = packageItem{pkg: p}
	}
	return items
}
