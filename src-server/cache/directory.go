package cache

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"slotd/src-server/model"
)

// Read-only lookups against the people table, which the personnel CRUD
// owns. Implements avail.PersonDirectory.
type Directory struct {
	db bun.IDB
}

func NewDirectory(db bun.IDB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) Person(ctx context.Context, personID int64) (*model.Person, error) {
	personModel := new(model.Person)
	if err := d.db.NewSelect().
		Model(personModel).
		Where("id = ?", personID).
		Scan(ctx); err != nil {
		return nil, fmt.Errorf("(*Directory).Person: can't get person %d: %w", personID, err)
	}
	return personModel, nil
}
