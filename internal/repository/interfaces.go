package repository

import (
	"context"

	"github.com/jwalitptl/nurse-call-api/internal/model"
)

// Mutation computes the next value of a request from its current value.
// Returning an error aborts the update and leaves the stored value unchanged.
type Mutation func(current model.Request) (model.Request, error)

type (
	// RequestStore is the authoritative request state of the coordination core.
	// Create and Update return the committed value; that value is the change
	// notification the caller routes to the priority index and the event hub.
	RequestStore interface {
		Create(ctx context.Context, fields model.RequestFields) (model.Request, error)
		Get(ctx context.Context, id string) (model.Request, error)
		Update(ctx context.Context, id string, mutate Mutation) (model.Request, error)
		ListActive(ctx context.Context) ([]model.Request, error)
		ListCompleted(ctx context.Context) ([]model.Request, error)
	}

	// RequestArchive is the durable persistence collaborator. It receives
	// committed snapshots after the fact and seeds the store on boot.
	RequestArchive interface {
		Save(ctx context.Context, req model.Request) error
		Get(ctx context.Context, id string) (model.Request, error)
		ListActive(ctx context.Context) ([]model.Request, error)
		ListCompleted(ctx context.Context) ([]model.Request, error)
	}
)
