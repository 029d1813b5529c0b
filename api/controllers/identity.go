package controllers

import (
	"net/http"

	"github.com/angelmondragon/escrow-settlement/api/middleware"
	pkgerrors "github.com/angelmondragon/escrow-settlement/pkg/errors"
)

func identity(r *http.Request) (middleware.Identity, error) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return middleware.Identity{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return id, nil
}
