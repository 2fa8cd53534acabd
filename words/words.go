// Package words picks secret words and compares guesses against them.
package words

import (
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed words.csv
var bundled string

var (
	ErrUnknownDifficulty = errors.New("unknown difficulty")
	ErrEmptyBank         = errors.New("word bank empty after parsing")
)

var Difficulties = []string{"easy", "medium", "hard"}

// Bank holds the word list per difficulty.
type Bank struct {
	mu    sync.Mutex
	rng   *rand.Rand
	words map[string][]string
}

var (
	loadOnce    sync.Once
	defaultBank *Bank
	loadErr     error
)

// Default returns the bank built from the embedded list.
func Default() (*Bank, error) {
	loadOnce.Do(func() {
		defaultBank, loadErr = Parse(bundled, rand.New(rand.NewSource(time.Now().UnixNano())))
	})
	return defaultBank, loadErr
}

// Parse reads "difficulty,word" rows. A header row is skipped.
func Parse(data string, rng *rand.Rand) (*Bank, error) {
	r := csv.NewReader(strings.NewReader(data))
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse word bank: %w", err)
	}

	b := &Bank{rng: rng, words: make(map[string][]string)}
	for i, row := range rows {
		diff := NormalizeDifficulty(row[0])
		word := strings.TrimSpace(row[1])
		if i == 0 && diff == "difficulty" {
			continue
		}
		if diff == "" || word == "" {
			continue
		}
		b.words[diff] = append(b.words[diff], word)
	}
	if len(b.words) == 0 {
		return nil, ErrEmptyBank
	}
	return b, nil
}

// Pick returns a random word for the difficulty.
func (b *Bank) Pick(difficulty string) (string, error) {
	list := b.words[NormalizeDifficulty(difficulty)]
	if len(list) == 0 {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, difficulty)
	}
	b.mu.Lock()
	idx := b.rng.Intn(len(list))
	b.mu.Unlock()
	return list[idx], nil
}

func (b *Bank) Has(difficulty string) bool {
	return len(b.words[NormalizeDifficulty(difficulty)]) > 0
}

var lower = cases.Lower(language.English)

// Normalize folds a guess or word to lowercase ASCII with single spaces.
func Normalize(s string) string {
	s = lower.String(unidecode.Unidecode(s))
	return strings.Join(strings.Fields(s), " ")
}

// Matches reports whether guess names word, ignoring case, accents and spacing.
func Matches(guess, word string) bool {
	g := Normalize(guess)
	return g != "" && g == Normalize(word)
}

func NormalizeDifficulty(d string) string {
	return strings.ToLower(strings.TrimSpace(d))
}
