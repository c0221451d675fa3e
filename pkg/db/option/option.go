package option

import (
	"fmt"
	"strings"
	"time"

	"github.com/recurhq/recur/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption shapes a gorm query before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(db *gorm.DB) *gorm.DB {
	return f(db)
}

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition is a single field comparison appended to the WHERE clause.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		field := strings.TrimSpace(cond.Field)
		if field == "" {
			return db
		}
		op := cond.Operator
		if op == "" {
			op = EQ
		}
		return db.Where(fmt.Sprintf("%s %s ?", field, op), cond.Value)
	})
}

// QuerySortBy validates caller-supplied sort columns against an allow list.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		column := strings.TrimSpace(strings.ToLower(sort.SortBy))
		if column == "" || !sort.Allow[column] {
			column = "created_at"
		}
		direction := "DESC"
		if strings.EqualFold(strings.TrimSpace(sort.OrderBy), "asc") {
			direction = "ASC"
		}
		return db.Order(fmt.Sprintf("%s %s", column, direction))
	})
}

func WithLimit(limit int) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		if limit <= 0 {
			return db
		}
		return db.Limit(limit)
	})
}

// ApplyPagination translates a cursor page request into WHERE + LIMIT.
// Fetches one row beyond the page size so callers can detect has_more.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(db *gorm.DB) *gorm.DB {
		size := page.PageSize
		if size <= 0 {
			size = 10
		}
		if token := strings.TrimSpace(page.PageToken); token != "" {
			cursor, err := pagination.DecodeCursor(token)
			if err == nil && cursor.CreatedAt != "" {
				if at, perr := time.Parse(time.RFC3339, cursor.CreatedAt); perr == nil {
					db = db.Where("created_at < ?", at)
				}
			}
		}
		return db.Limit(size + 1)
	})
}
