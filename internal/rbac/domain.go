package rbac

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/odyssey-erp/accesscore/internal/platform/httpx"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID     int64  `json:"id"`
	Key    string `json:"key"`
	Module string `json:"module"`
}

// Effect is the outcome of a per-user override.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Valid reports whether e is a known effect.
func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Override is a per-user exception to the permissions implied by the role.
type Override struct {
	Key    string `json:"key" validate:"required,max=128"`
	Effect Effect `json:"effect" validate:"required,oneof=allow deny"`
}

// NormalizeKey trims and case-folds a permission key. A Caser carries state,
// so one is built per call.
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	return cases.Fold().String(key)
}

// NormalizeKeys normalizes, drops empties and deduplicates keys. The result is sorted.
func NormalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = NormalizeKey(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// NormalizeOverrides validates effects and collapses duplicates, keeping the
// last row per key so that at most one override exists per permission.
func NormalizeOverrides(in []Override) ([]Override, error) {
	byKey := make(map[string]Effect, len(in))
	for _, o := range in {
		key := NormalizeKey(o.Key)
		if key == "" {
			return nil, fmt.Errorf("rbac: override key required: %w", httpx.ErrValidation)
		}
		effect := Effect(NormalizeKey(string(o.Effect)))
		if !effect.Valid() {
			return nil, fmt.Errorf("rbac: override %q has invalid effect %q: %w", key, o.Effect, httpx.ErrValidation)
		}
		byKey[key] = effect
	}
	out := make([]Override, 0, len(byKey))
	for k, e := range byKey {
		out = append(out, Override{Key: k, Effect: e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PermissionSet is an effective permission set keyed by permission key.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from keys, normalizing each one.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		if k = NormalizeKey(k); k != "" {
			set[k] = struct{}{}
		}
	}
	return set
}

// Has reports whether key is in the set.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[NormalizeKey(key)]
	return ok
}

// HasAny reports whether the set intersects keys.
func (s PermissionSet) HasAny(keys ...string) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

// HasAll reports whether every key is in the set. An empty list is satisfied.
func (s PermissionSet) HasAll(keys ...string) bool {
	for _, k := range keys {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

// Sorted returns the keys in ascending order.
func (s PermissionSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Hash is a stable digest of the sorted key list.
func (s PermissionSet) Hash() string {
	sum := sha256.Sum256([]byte(strings.Join(s.Sorted(), "\n")))
	return hex.EncodeToString(sum[:])
}

// MarshalJSON encodes the set as a sorted array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes a JSON array of keys.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	*s = NewPermissionSet(keys...)
	return nil
}
