// contentrex/pkg/store/store.go

package store

import (
	"context"
	"errors"

	"rgehrsitz/contentrex/pkg/compiler"
)

// ErrNotFound is returned when no extension is stored under an identifier.
var ErrNotFound = errors.New("content extension not found")

// Store keeps compiled content extensions by identifier.
type Store interface {
	SaveExtension(ctx context.Context, id string, ext *compiler.CompiledExtension) error
	LoadExtension(ctx context.Context, id string) (*compiler.CompiledExtension, error)
	ListExtensions(ctx context.Context) ([]string, error)
	DeleteExtension(ctx context.Context, id string) error
}

// Client is a compiler.Client that saves the extension into a Store when the
// compilation finalizes it.
type Client struct {
	compiler.CompiledExtension

	ctx   context.Context
	store Store
	id    string
}

func NewClient(ctx context.Context, store Store, id string) *Client {
	return &Client{ctx: ctx, store: store, id: id}
}

func (c *Client) Finalize() error {
	if err := c.CompiledExtension.Finalize(); err != nil {
		return err
	}
	return c.store.SaveExtension(c.ctx, c.id, &c.CompiledExtension)
}
