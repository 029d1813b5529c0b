package controllers

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/api/middleware"
	"github.com/angelmondragon/escrow-settlement/pkg/enums"
	"github.com/angelmondragon/escrow-settlement/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func addRouteParam(req *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))
}

func asRole(req *http.Request, role enums.ActorRole) (*http.Request, uuid.UUID) {
	userID := uuid.New()
	return req.WithContext(middleware.WithIdentity(req.Context(), middleware.Identity{UserID: userID, Role: role})), userID
}
