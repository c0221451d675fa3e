// Package render turns an invoice aggregate into a printable document.
package render

import (
	"github.com/recurhq/recur/internal/invoice/domain"
)

// RenderInput is everything the template binds to. Account details come
// from the caller so the renderer stays free of repositories.
type RenderInput struct {
	Invoice      domain.Invoice
	AccountName  string
	AccountEmail string
}

type Renderer interface {
	RenderHTML(input RenderInput) (string, error)
}
