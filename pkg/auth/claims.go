package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/escrow-settlement/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID   uuid.UUID
	Role     enums.ActorRole
	SellerID *uuid.UUID
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to clients. SellerID is
// set for seller staff and names the storefront they act for.
type AccessTokenClaims struct {
	UserID   uuid.UUID       `json:"user_id"`
	Role     enums.ActorRole `json:"role"`
	SellerID *uuid.UUID      `json:"seller_id,omitempty"`
	jwt.RegisteredClaims
}

// checkActor holds for both minted and parsed tokens. System is never a
// caller over HTTP; it only appears on cron and webhook driven changes.
func checkActor(userID uuid.UUID, role enums.ActorRole, sellerID *uuid.UUID) error {
	switch {
	case userID == uuid.Nil:
		return errors.New("token missing user id")
	case !role.IsValid() || role == enums.ActorRoleSystem:
		return fmt.Errorf("invalid actor role %q", role)
	case role == enums.ActorRoleSeller && (sellerID == nil || *sellerID == uuid.Nil):
		return errors.New("seller tokens require a seller id")
	}
	return nil
}
