package content_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remedialab/lectura/internal/content"
)

const deckYAML = `deck:
  key: "english-reading-1"
  title: "Beginning Reader Set 1"
  language: "en-US"
cards:
  - sentence: "The quick brown fox jumps."
    highlight_words: ["quick", "fox"]
  - sentence: "A bird sings in the tree."
`

func TestLoadCardsFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "english-reading-1.yaml"), []byte(deckYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cards, err := content.NewSource(dir).LoadCards("english-reading-1")
	if err != nil {
		t.Fatalf("LoadCards() error = %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("got %d cards, want 2", len(cards))
	}
	if cards[0].Sentence != "The quick brown fox jumps." {
		t.Errorf("cards[0].Sentence = %q", cards[0].Sentence)
	}
	if len(cards[0].HighlightWords) != 2 || cards[0].HighlightWords[0] != "quick" {
		t.Errorf("cards[0].HighlightWords = %v", cards[0].HighlightWords)
	}
}

func TestLoadCardsMissingKeyFallsBackToSeed(t *testing.T) {
	t.Parallel()

	cards, err := content.NewSource(t.TempDir()).LoadCards("no-such-deck")
	if err != nil {
		t.Fatalf("LoadCards() error = %v", err)
	}
	if len(cards) == 0 {
		t.Fatal("seed deck should not be empty")
	}
}

func TestLoadCardsMalformedDeckIsAnError(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("cards: {not a list"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := content.NewSource(dir).LoadCards("broken"); err == nil {
		t.Error("malformed deck should not silently fall back")
	}
}

func TestLoadCardsRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := strings.Replace(deckYAML, "cards:", "slides:", 1)
	if err := os.WriteFile(filepath.Join(dir, "typo.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := content.NewSource(dir).LoadCards("typo"); err == nil {
		t.Error("unknown top-level key should be rejected")
	}
}

func TestLoadCardsKeyCannotEscapeDirectory(t *testing.T) {
	t.Parallel()

	// A traversal-shaped key must resolve inside the deck directory; with no
	// matching file there, the seed deck is returned.
	cards, err := content.NewSource(t.TempDir()).LoadCards("../../etc/passwd")
	if err != nil {
		t.Fatalf("LoadCards() error = %v", err)
	}
	if len(cards) == 0 {
		t.Fatal("expected seed deck for non-existent sanitized key")
	}
}

func TestSeedDeckIsACopy(t *testing.T) {
	t.Parallel()

	first := content.SeedDeck()
	first[0].Sentence = "mutated"
	if content.SeedDeck()[0].Sentence == "mutated" {
		t.Error("SeedDeck() must return a fresh copy")
	}
}
