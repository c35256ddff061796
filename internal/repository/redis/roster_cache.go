package redis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"voicelink-backend/pkg/cache"
)

// CachedRoomRepository fronts a RoomRepository with a short-lived in-memory
// roster cache. Call-start presence sweeps read the roster for every ring,
// so the hot path should not round-trip to Redis each time.
type CachedRoomRepository struct {
	inner  *RoomRepository
	roster *cache.RosterCache
}

// NewCachedRoomRepository creates a caching wrapper around a RoomRepository
func NewCachedRoomRepository(inner *RoomRepository, ttl time.Duration) *CachedRoomRepository {
	return &CachedRoomRepository{
		inner:  inner,
		roster: cache.NewRosterCache(ttl),
	}
}

// AddMember adds a user to a room roster and invalidates the cached roster
func (r *CachedRoomRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.inner.AddMember(ctx, roomID, userID); err != nil {
		return err
	}
	r.roster.Invalidate(roomID)
	return nil
}

// RemoveMember removes a user from a room roster and invalidates the cached roster
func (r *CachedRoomRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := r.inner.RemoveMember(ctx, roomID, userID); err != nil {
		return err
	}
	r.roster.Invalidate(roomID)
	return nil
}

// Members retrieves the user IDs in a room roster, from cache when fresh
func (r *CachedRoomRepository) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	if members, ok := r.roster.GetMembers(roomID); ok {
		return members, nil
	}

	members, err := r.inner.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	r.roster.SetMembers(roomID, members)
	return members, nil
}

// IsMember checks whether a user belongs to a room
func (r *CachedRoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	return r.inner.IsMember(ctx, roomID, userID)
}

// MemberCount returns the size of a room roster
func (r *CachedRoomRepository) MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	return r.inner.MemberCount(ctx, roomID)
}
