package stores

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/oarkflow/permit"
)

// RedisGroupMembership stores user->groups in Redis sets (key: permit:groups:{userID})
type RedisGroupMembership struct {
	client redis.UniversalClient
	keyFmt string // format string, e.g. "permit:groups:%d"
}

func NewRedisGroupMembership(client redis.UniversalClient) *RedisGroupMembership {
	return &RedisGroupMembership{client: client, keyFmt: "permit:groups:%d"}
}

func (r *RedisGroupMembership) key(userID int64) string {
	return fmt.Sprintf(r.keyFmt, userID)
}

func (r *RedisGroupMembership) AddMember(ctx context.Context, userID, groupID int64) error {
	return r.client.SAdd(ctx, r.key(userID), groupID).Err()
}

func (r *RedisGroupMembership) RemoveMember(ctx context.Context, userID, groupID int64) error {
	return r.client.SRem(ctx, r.key(userID), groupID).Err()
}

// ListGroups returns the user's groups in ascending order.
func (r *RedisGroupMembership) ListGroups(ctx context.Context, userID int64) ([]int64, error) {
	res, err := r.client.SMembers(ctx, r.key(userID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]int64, 0, len(res))
	for _, m := range res {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("group member %q of %s: %w", m, r.key(userID), err)
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (r *RedisGroupMembership) GroupsFor(ctx context.Context, subject *permit.Subject) ([]int64, error) {
	if !subject.Authenticated() {
		return nil, nil
	}
	return r.ListGroups(ctx, subject.ID)
}

var _ permit.GroupProvider = (*RedisGroupMembership)(nil)
