package rtdb

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// reindex queues the Set/SRem commands that keep every string-valued
// top-level field's index in sync with a write of newVal over oldVal,
// inside the same pipeline as the value write itself so a reader never
// observes one without the other.
func (s *Store) reindex(ctx context.Context, pipe redis.Pipeliner, id string, oldVal, newVal any) {
	oldFields := stringFields(oldVal)
	newFields := stringFields(newVal)

	for field, v := range oldFields {
		if nv, ok := newFields[field]; !ok || nv != v {
			pipe.SRem(ctx, s.indexValueKey(field, v), id)
			pipe.SRem(ctx, s.indexPresentKey(field), id)
		}
	}
	for field, v := range newFields {
		pipe.SAdd(ctx, s.indexValueKey(field, v), id)
		pipe.SAdd(ctx, s.indexPresentKey(field), id)
	}
}

// deindex removes id from every index entry a removed value held.
func (s *Store) deindex(ctx context.Context, pipe redis.Pipeliner, id string, oldVal any) {
	for field, v := range stringFields(oldVal) {
		pipe.SRem(ctx, s.indexValueKey(field, v), id)
		pipe.SRem(ctx, s.indexPresentKey(field), id)
	}
}

// matchingIDs resolves the ids currently satisfying field == value
// (value a string) or field absent/non-string (value nil or any
// non-string), mirroring Query.matchesFilter's semantics at the index
// level instead of scanning every child.
func (s *Store) matchingIDs(ctx context.Context, field string, value any) ([]string, error) {
	target, isString := value.(string)
	if isString {
		return s.client.SMembers(ctx, s.indexValueKey(field, target)).Result()
	}
	// Non-string equalTo target (nil, in every caller this codebase has):
	// matches ids NOT present in the field's "has a string value" set.
	return s.client.SDiff(ctx, s.idsKey(), s.indexPresentKey(field)).Result()
}
