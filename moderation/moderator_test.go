package moderation

import (
	"dm-relay/errors"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// Dictionary words are picked so they never hide inside common words
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"badger", "snake", "mushroom"}, replacementChar,
		logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "single word keeps spacing",
			input:    "The badger is here",
			expected: "The ****** is here",
			words:    []string{"badger"},
		},
		{
			name:     "repeated word",
			input:    "badger badger",
			expected: "****** ******",
			words:    []string{"badger", "badger"},
		},
		{
			name:     "leet speak with inner punctuation",
			input:    "Look at B.4.d.g.€r !",
			expected: "Look at ********** !",
			words:    []string{"badger"},
		},
		{
			name:     "uppercase and separators",
			input:    "S-N-A-K-E is a B.A.D.G.E.R",
			expected: "********* is a ***********",
			words:    []string{"snake", "badger"},
		},
		{
			name:     "accents left untouched",
			input:    "Un été avec un mushroom",
			expected: "Un été avec un ********",
			words:    []string{"mushroom"},
		},
		{
			name:     "trailing punctuation kept",
			input:    "I saw a snake!",
			expected: "I saw a *****!",
			words:    []string{"snake"},
		},
		{
			name:     "clean content",
			input:    "see you tomorrow",
			expected: "see you tomorrow",
		},
		{
			name:     "empty content",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content)
			req.Equal(tt.words, words)
		})
	}
}

func TestModerator_Noise_Only_Entries_Are_Ignored(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"...", ",,,", "", "badger"}, replacementChar,
		logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)

	content, words := mod.Censor("The badger is safe")
	req.Equal("The ****** is safe", content)
	req.Equal([]string{"badger"}, words)

	content, words = mod.Censor("Hello ...")
	req.Equal("Hello ...", content)
	req.Nil(words)
}

func TestModerator_Empty_Dictionary_Censors_Nothing(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator(nil, replacementChar, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)

	content, words := mod.Censor("anything goes")
	req.Equal("anything goes", content)
	req.Nil(words)
}

func TestLoader_LoadAll(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"words/en.txt":       {Data: []byte("badger\r\nsnake\n\n  badger  \n")},
		"words/fr.txt":       {Data: []byte("blaireau\n")},
		"words/README.md":    {Data: []byte("not a dictionary")},
		"words/nested/x.txt": {Data: []byte("ignored")},
	}

	dictionary, err := NewLoader(fsys).LoadAll("words")

	req.NoError(err)
	req.Equal([]string{"badger", "blaireau", "snake"}, dictionary.Words)
	req.ElementsMatch([]string{"en", "fr"}, dictionary.Languages)
}

func TestLoader_Empty_Files(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{"words/en.txt": {Data: []byte("\n \n")}}

	_, err := NewLoader(fsys).LoadAll("words")

	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestLoader_Embedded_Dictionaries(t *testing.T) {
	req := require.New(t)

	dictionary, err := NewLoader(nil).LoadAll("censored")

	req.NoError(err)
	req.NotEmpty(dictionary.Words)
	req.ElementsMatch([]string{"en", "fr"}, dictionary.Languages)
}
