package redis

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"voicelink-backend/internal/database"
)

// RoomRepository handles room membership rosters in Redis
type RoomRepository struct {
	client *database.RedisClient
}

// NewRoomRepository creates a new RoomRepository
func NewRoomRepository(client *database.RedisClient) *RoomRepository {
	return &RoomRepository{client: client}
}

// AddMember adds a user to a room roster
func (r *RoomRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID) error {
	key := fmt.Sprintf("room:%s:members", roomID)
	err := r.client.SafeSAdd(ctx, key, userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a room roster
func (r *RoomRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	key := fmt.Sprintf("room:%s:members", roomID)
	err := r.client.SafeSRem(ctx, key, userID.String()).Err()
	if err != nil {
		return fmt.Errorf("failed to remove room member: %w", err)
	}
	return nil
}

// Members retrieves the user IDs in a room roster
func (r *RoomRepository) Members(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	key := fmt.Sprintf("room:%s:members", roomID)

	memberStrs, err := r.client.SafeSMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get room members: %w", err)
	}

	members := make([]uuid.UUID, 0, len(memberStrs))
	for _, idStr := range memberStrs {
		userID, err := uuid.Parse(idStr)
		if err != nil {
			continue // Skip invalid UUIDs
		}
		members = append(members, userID)
	}

	return members, nil
}

// IsMember checks whether a user belongs to a room
func (r *RoomRepository) IsMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("room:%s:members", roomID)
	member, err := r.client.SafeSIsMember(ctx, key, userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	return member, nil
}

// MemberCount returns the size of a room roster
func (r *RoomRepository) MemberCount(ctx context.Context, roomID uuid.UUID) (int64, error) {
	key := fmt.Sprintf("room:%s:members", roomID)
	count, err := r.client.SafeSCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count room members: %w", err)
	}
	return count, nil
}
