package grpc

import (
	"context"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"library-circulation/internal/domain"
)

// Metadata keys set by the auth interceptor after token validation.
const (
	MetadataUserID = "user-id"
	MetadataRole   = "user-role"
)

// Caller is the authenticated user of a request.
type Caller struct {
	UserID uuid.UUID
	Role   domain.Role
}

func (c Caller) IsStaff() bool {
	return c.Role == domain.RoleStaff
}

// CallerFromContext returns the caller injected by the auth interceptor.
// ok is false when the server runs without authentication.
func CallerFromContext(ctx context.Context) (caller Caller, ok bool, err error) {
	md, present := metadata.FromIncomingContext(ctx)
	if !present {
		return Caller{}, false, nil
	}

	userIDs := md.Get(MetadataUserID)
	if len(userIDs) == 0 {
		return Caller{}, false, nil
	}
	userID, err := uuid.Parse(userIDs[0])
	if err != nil {
		return Caller{}, false, status.Errorf(codes.InvalidArgument, "invalid user_id format: %v", err)
	}

	var role domain.Role
	if roles := md.Get(MetadataRole); len(roles) > 0 {
		role = domain.Role(roles[0])
	}
	return Caller{UserID: userID, Role: role}, true, nil
}
