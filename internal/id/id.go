// Package id generates prefixed NanoID identifiers for catalog rows, charts
// and tasks.
package id

import (
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the entity kinds kchart stores.
const (
	PrefixArtist    = "artist"
	PrefixAlbum     = "album"
	PrefixSong      = "song"
	PrefixService   = "svc"
	PrefixChart     = "chart"
	PrefixHourly    = "hc"
	PrefixAggregate = "agg"
	PrefixTask      = "task"
	PrefixBatch     = "batch"
)

// Generate creates "prefix-<21 char nanoid>".
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if the system has no entropy.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// HasPrefix reports whether id was generated with prefix.
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"-") && len(id) > len(prefix)+1
}
