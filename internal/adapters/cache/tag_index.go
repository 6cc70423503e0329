package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/opsledger/treasury-infra/internal/domain"
)

// TagIndex maps semantic tags to cache keys for bulk invalidation. It is
// process-local and never persisted: after a restart the shared store may still
// hold now-untagged entries, which age out by TTL. The two mappings stay
// symmetric, so k is in Keys(t) exactly when t is in Tags(k).
type TagIndex struct {
	store *Store

	mu        sync.Mutex
	tagToKeys map[string]map[string]struct{}
	keyToTags map[string]map[string]struct{}
}

func NewTagIndex(store *Store) *TagIndex {
	return &TagIndex{
		store:     store,
		tagToKeys: make(map[string]map[string]struct{}),
		keyToTags: make(map[string]map[string]struct{}),
	}
}

func validateTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("%w: empty tag", domain.ErrInvalidTag)
	}
	if strings.ContainsAny(tag, " \t\n*?[") {
		return fmt.Errorf("%w: %q contains whitespace or glob characters", domain.ErrInvalidTag, tag)
	}
	return nil
}

// Tag associates key with every given tag. All tags are validated before any
// mutation so a bad name cannot leave a half-applied association.
func (ti *TagIndex) Tag(key string, tags ...string) error {
	if key == "" {
		return fmt.Errorf("%w: empty cache key", domain.ErrInvalidInput)
	}
	for _, tag := range tags {
		if err := validateTag(tag); err != nil {
			return err
		}
	}

	ti.mu.Lock()
	defer ti.mu.Unlock()
	for _, tag := range tags {
		keys, ok := ti.tagToKeys[tag]
		if !ok {
			keys = make(map[string]struct{})
			ti.tagToKeys[tag] = keys
		}
		keys[key] = struct{}{}

		tagsOfKey, ok := ti.keyToTags[key]
		if !ok {
			tagsOfKey = make(map[string]struct{})
			ti.keyToTags[key] = tagsOfKey
		}
		tagsOfKey[tag] = struct{}{}
	}
	return nil
}

// InvalidateByTag deletes every key indexed under tag from the cache store and
// removes the association. Unknown tags return 0 and mutate nothing. Store
// deletes happen outside the index lock since they may touch the network.
func (ti *TagIndex) InvalidateByTag(ctx context.Context, tag string) int {
	ti.mu.Lock()
	keys, ok := ti.tagToKeys[tag]
	if !ok {
		ti.mu.Unlock()
		return 0
	}
	invalidated := make([]string, 0, len(keys))
	for key := range keys {
		invalidated = append(invalidated, key)
		if tagsOfKey, ok := ti.keyToTags[key]; ok {
			delete(tagsOfKey, tag)
			if len(tagsOfKey) == 0 {
				delete(ti.keyToTags, key)
			}
		}
	}
	delete(ti.tagToKeys, tag)
	ti.mu.Unlock()

	for _, key := range invalidated {
		ti.store.Delete(ctx, key)
	}
	return len(invalidated)
}

// InvalidateByTags invalidates several tags and returns the total key count.
// A key tagged under two invalidated tags counts once per tag that still held it.
func (ti *TagIndex) InvalidateByTags(ctx context.Context, tags []string) int {
	total := 0
	for _, tag := range tags {
		total += ti.InvalidateByTag(ctx, tag)
	}
	return total
}

// InvalidateKey deletes one key from the store and drops it from every tag set.
func (ti *TagIndex) InvalidateKey(ctx context.Context, key string) {
	ti.mu.Lock()
	if tagsOfKey, ok := ti.keyToTags[key]; ok {
		for tag := range tagsOfKey {
			if keys, ok := ti.tagToKeys[tag]; ok {
				delete(keys, key)
				if len(keys) == 0 {
					delete(ti.tagToKeys, tag)
				}
			}
		}
		delete(ti.keyToTags, key)
	}
	ti.mu.Unlock()

	ti.store.Delete(ctx, key)
}

// Keys returns the sorted keys currently indexed under tag.
func (ti *TagIndex) Keys(tag string) []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	out := make([]string, 0, len(ti.tagToKeys[tag]))
	for key := range ti.tagToKeys[tag] {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Tags returns the sorted tags currently applied to key.
func (ti *TagIndex) Tags(key string) []string {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	out := make([]string, 0, len(ti.keyToTags[key]))
	for tag := range ti.keyToTags[key] {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}
