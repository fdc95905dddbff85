// Package artifact defines the content-addressed cache key and the typed
// envelopes stored under it.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/okian/revroute/internal/domain/model"
)

// Type names the kind of artifact stored under a key.
type Type string

// Known artifact types.
const (
	TypeLLMRerank Type = "llm_rerank"
)

// Key addresses one artifact. Every field participates in equality.
// VersionKey must encode every input that changes the artifact's content
// and is not already part of the key.
type Key struct {
	Repo         string           `json:"repo" validate:"required"`
	EntityType   model.EntityType `json:"entity_type" validate:"required"`
	EntityID     string           `json:"entity_id" validate:"required"`
	Cutoff       time.Time        `json:"cutoff" validate:"required"`
	ArtifactType Type             `json:"artifact_type" validate:"required"`
	VersionKey   string           `json:"version_key" validate:"required"`
}

// KeyFor builds the key of an artifact computed for sc.
func KeyFor(sc model.ScoringContext, typ Type, versionKey string) Key {
	return Key{
		Repo:         sc.Repo,
		EntityType:   sc.EntityType,
		EntityID:     sc.EntityID,
		Cutoff:       sc.Cutoff.UTC(),
		ArtifactType: typ,
		VersionKey:   versionKey,
	}
}

// Validate rejects keys with missing fields.
func (k Key) Validate() error {
	if err := validate.Struct(k); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// Canonical renders the key with fields in name order and quoted values,
// so equal keys always render identically. Cutoffs are compared as
// instants, independent of their location.
func (k Key) Canonical() string {
	return canonical(map[string]string{
		"artifact_type": string(k.ArtifactType),
		"cutoff":        k.Cutoff.UTC().Format(time.RFC3339Nano),
		"entity_id":     k.EntityID,
		"entity_type":   string(k.EntityType),
		"repo":          k.Repo,
		"version_key":   k.VersionKey,
	})
}

// Digest is the hex sha256 of Canonical.
func (k Key) Digest() string {
	sum := sha256.Sum256([]byte(k.Canonical()))
	return hex.EncodeToString(sum[:])
}

// String implements fmt.Stringer.
func (k Key) String() string { return k.Canonical() }

// Version builds a version key from named inputs. Order of the map does
// not matter.
func Version(parts map[string]string) string {
	return canonical(parts)
}

func canonical(fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for i, n := range names {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(n)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(fields[n]))
	}
	return b.String()
}
