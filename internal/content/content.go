// Package content loads reading card decks. A deck is a YAML file keyed by a
// content key; when no file exists for a key the built-in seed deck is used,
// so a classroom install works before any content has been authored.
package content

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/remedialab/lectura/pkg/types"
)

// DeckFile is the top-level structure of a card deck YAML file.
//
// Example:
//
//	deck:
//	  key: "english-reading-1"
//	  title: "Beginning Reader Set 1"
//	  language: "en-US"
//	cards:
//	  - sentence: "The cat sat on the mat."
//	    highlight_words: ["cat", "mat"]
type DeckFile struct {
	Deck  DeckMeta             `yaml:"deck"`
	Cards []types.ExpectedCard `yaml:"cards"`
}

// DeckMeta holds top-level metadata for a deck.
type DeckMeta struct {
	// Key is the content key a session uses to request this deck.
	Key string `yaml:"key"`

	// Title is the deck's display name.
	Title string `yaml:"title"`

	// Language is the BCP-47 tag of the deck's sentences.
	Language string `yaml:"language"`
}

// Source resolves content keys to card decks from a directory of YAML files.
type Source struct {
	dir string
}

// NewSource creates a Source reading decks from dir. An empty dir means every
// key resolves to the seed deck.
func NewSource(dir string) *Source {
	return &Source{dir: dir}
}

// LoadCards returns the cards for contentKey. A missing deck file falls back
// to the seed deck; a malformed one is an error, since silently replacing an
// authored deck would assess students against the wrong sentences.
func (s *Source) LoadCards(contentKey string) ([]types.ExpectedCard, error) {
	if s.dir == "" {
		return SeedDeck(), nil
	}

	path := filepath.Join(s.dir, sanitizeKey(contentKey)+".yaml")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return SeedDeck(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("content: open deck %q: %w", path, err)
	}
	defer f.Close()

	deck, err := LoadDeckFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("content: parse deck %q: %w", path, err)
	}
	if len(deck.Cards) == 0 {
		return nil, fmt.Errorf("content: deck %q has no cards", path)
	}
	return deck.Cards, nil
}

// LoadDeckFromReader parses deck YAML from an [io.Reader]. The reader is
// consumed entirely; the caller is responsible for closing it.
func LoadDeckFromReader(r io.Reader) (*DeckFile, error) {
	var deck DeckFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&deck); err != nil {
		return nil, fmt.Errorf("content: decode deck yaml: %w", err)
	}
	return &deck, nil
}

// sanitizeKey strips path separators so a content key can never escape the
// deck directory.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "/", "-")
	key = strings.ReplaceAll(key, "\\", "-")
	return strings.ReplaceAll(key, "..", "-")
}

// SeedDeck returns the built-in beginning-reader deck. The returned slice is
// a fresh copy on every call.
func SeedDeck() []types.ExpectedCard {
	return []types.ExpectedCard{
		{Sentence: "The cat sat on the mat.", HighlightWords: []string{"cat", "mat"}},
		{Sentence: "I see a big red balloon.", HighlightWords: []string{"big", "red"}},
		{Sentence: "The sun is bright today.", HighlightWords: []string{"sun", "bright"}},
		{Sentence: "My dog likes to run and play.", HighlightWords: []string{"run", "play"}},
		{Sentence: "We read a book about the sea.", HighlightWords: []string{"read", "sea"}},
	}
}
