// Package merkle builds Merkle trees over a node's key/value data so two
// replicas can decide whether they're in sync with a single hash
// comparison instead of exchanging every key.
//
// WHY MERKLE TREES?
//   - Comparing entire datasets key-by-key is expensive (O(n) network calls).
//   - If root hashes match, the data is identical — no further comparison
//     needed.
//   - If roots differ, the reference design allows a flat O(n) leaf diff
//     rather than a subtree walk, since cluster sizes here are small enough
//     that sub-tree pruning doesn't pay for its complexity.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Tree is an immutable Merkle tree over a snapshot of key/value data.
type Tree struct {
	leaves map[string]string // key -> leaf hash (hex)
	root   string
}

// Build constructs a Tree from data, hashing each entry as
// SHA256("<key>:<canonical_json(value)>") and combining leaves bottom-up.
// Go's encoding/json already serializes object keys in sorted order, so
// re-encoding a decoded value is sufficient to canonicalize it.
func Build(data map[string]json.RawMessage) *Tree {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	leaves := make(map[string]string, len(keys))
	hashes := make([]string, 0, len(keys))
	for _, k := range keys {
		h := leafHash(k, data[k])
		leaves[k] = h
		hashes = append(hashes, h)
	}

	return &Tree{leaves: leaves, root: buildLevel(hashes)}
}

func leafHash(key string, value json.RawMessage) string {
	canonical := canonicalize(value)
	sum := sha256.Sum256([]byte(key + ":" + canonical))
	return hex.EncodeToString(sum[:])
}

// canonicalize re-marshals value through a generic interface{} so object
// keys come out sorted, matching the reference implementation's
// json.dumps(value, sort_keys=True).
func canonicalize(value json.RawMessage) string {
	var v any
	if err := json.Unmarshal(value, &v); err != nil {
		return string(value)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(value)
	}
	return string(out)
}

// buildLevel recursively combines a level of hashes into its root,
// duplicating the final hash when a level has an odd count.
func buildLevel(hashes []string) string {
	if len(hashes) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:])
	}
	if len(hashes) == 1 {
		return hashes[0]
	}

	parents := make([]string, 0, (len(hashes)+1)/2)
	for i := 0; i < len(hashes); i += 2 {
		var combined string
		if i+1 < len(hashes) {
			combined = hashes[i] + hashes[i+1]
		} else {
			combined = hashes[i] + hashes[i]
		}
		sum := sha256.Sum256([]byte(combined))
		parents = append(parents, hex.EncodeToString(sum[:]))
	}
	return buildLevel(parents)
}

// RootHash returns the tree's root hash for cheap equality comparison.
func (t *Tree) RootHash() string {
	return t.root
}

// LeafHash returns the hash of a single key, or "" if the key isn't in
// this tree.
func (t *Tree) LeafHash(key string) string {
	return t.leaves[key]
}

// Diff reports how t and other disagree: keys present only in t, keys
// present only in other, and keys present in both with differing values.
// This is the flat O(n) comparison spec.md explicitly permits in place of
// a subtree walk.
func (t *Tree) Diff(other *Tree) (onlyInSelf, onlyInOther, conflicting []string) {
	for k := range t.leaves {
		if _, ok := other.leaves[k]; !ok {
			onlyInSelf = append(onlyInSelf, k)
		}
	}
	for k := range other.leaves {
		if _, ok := t.leaves[k]; !ok {
			onlyInOther = append(onlyInOther, k)
		}
	}
	for k, h := range t.leaves {
		if oh, ok := other.leaves[k]; ok && oh != h {
			conflicting = append(conflicting, k)
		}
	}

	sort.Strings(onlyInSelf)
	sort.Strings(onlyInOther)
	sort.Strings(conflicting)
	return onlyInSelf, onlyInOther, conflicting
}
