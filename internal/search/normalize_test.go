package search

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"أحمد":        "احمد",
		"إبراهيم":     "ابراهيم",
		"آمنة":        "امنة",
		"مُحَمَّد":    "محمد",
		"عيسى":        "عيسي",
		"عبـــدالله":  "عبدالله",
		"  José  ":    "jose",
		"Ali   Saad ": "ali saad",
		"سُلَيْمَان":  "سليمان",
		"Zoë Ćwik":    "zoe cwik",
	}
	for in, want := range cases {
		require.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNormalizeConcurrentCallers(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]string, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Normalize("عَبْدُالرَّحْمَن")
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		require.Equal(t, "عبدالرحمن", r)
	}
}

func TestNormalizeTerms(t *testing.T) {
	terms, err := NormalizeTerms([]string{"مُحمد", "علي عبدالله"})
	require.NoError(t, err)
	require.Equal(t, []string{"محمد", "علي", "عبدالله"}, terms)

	_, err = NormalizeTerms(nil)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NormalizeTerms([]string{"م"})
	require.ErrorIs(t, err, ErrInvalidInput)

	// A diacritic alone does not count towards the minimum length.
	_, err = NormalizeTerms([]string{"مَ"})
	require.ErrorIs(t, err, ErrInvalidInput)

	many := make([]string, MaxTerms+1)
	for i := range many {
		many[i] = "علي"
	}
	_, err = NormalizeTerms(many)
	require.ErrorIs(t, err, ErrInvalidInput)
}
