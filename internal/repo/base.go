// Package repo carries what the gorm-backed repositories share: context-bound
// handles and reusable query scopes.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/coursepay/pkg/pagination"
)

// Base is embedded by repositories. Rebinding it to a transaction handle makes
// every method of the repository run inside that transaction.
type Base struct {
	conn *gorm.DB
}

func NewBase(conn *gorm.DB) Base {
	return Base{conn: conn}
}

// DB scopes the handle to ctx; a nil ctx returns the handle unchanged.
func (b Base) DB(ctx context.Context) *gorm.DB {
	if ctx == nil {
		return b.conn
	}
	return b.conn.WithContext(ctx)
}

// Dialect is "postgres" or "sqlite", for the few queries that differ.
func (b Base) Dialect() string {
	if b.conn == nil || b.conn.Dialector == nil {
		return ""
	}
	return b.conn.Dialector.Name()
}

// Page limits a query to one normalized page.
func Page(p pagination.Params) func(*gorm.DB) *gorm.DB {
	n := p.Normalize()
	return func(q *gorm.DB) *gorm.DB {
		return q.Limit(n.Limit).Offset(n.Offset())
	}
}

// Within bounds column by the inclusive window; nil ends are open.
func Within(column string, from, to *time.Time) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if from != nil {
			q = q.Where(column+" >= ?", from.UTC())
		}
		if to != nil {
			q = q.Where(column+" <= ?", to.UTC())
		}
		return q
	}
}

func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
