package store

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLite(filepath.Join(t.TempDir(), "run_cache.db"), "20260101_120000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"sqlite": sq,
		"memory": NewMemory(),
	}
}

func TestClaimPathfulFirstOwnerWins(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.True(t, st.ClaimPathful("https://example.com/"))
			assert.False(t, st.ClaimPathful("https://example.com/"))
			assert.True(t, st.ClaimPathful("https://example.com/kontakt"))
		})
	}
}

func TestClaimPathfulConcurrent(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 16
			wins := make(chan bool, workers)

			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					wins <- st.ClaimPathful("https://contested.example/")
				}()
			}
			wg.Wait()
			close(wins)

			winners := 0
			for won := range wins {
				if won {
					winners++
				}
			}
			assert.Equal(t, 1, winners)
		})
	}
}

func TestRawOutputsRoundTrip(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			outputs := []model.PhoneNumberLLMOutput{
				{Number: "+493012345678", Type: "Main Line", Classification: "Primary",
					SourceURL: "https://example.com/kontakt", CompanyName: "A"},
			}

			_, ok, err := st.GetRawOutputs("https://example.com/kontakt")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.SaveRawOutputs("https://example.com/kontakt", outputs))

			got, ok, err := st.GetRawOutputs("https://example.com/kontakt")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, outputs, got)
		})
	}
}

func TestRawOutputsOverwrite(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			url := "https://example.com/"
			require.NoError(t, st.SaveRawOutputs(url, []model.PhoneNumberLLMOutput{{Number: "+491"}}))
			require.NoError(t, st.SaveRawOutputs(url, []model.PhoneNumberLLMOutput{{Number: "+492"}}))

			got, ok, err := st.GetRawOutputs(url)
			require.NoError(t, err)
			require.True(t, ok)
			require.Len(t, got, 1)
			assert.Equal(t, "+492", got[0].Number)
		})
	}
}
