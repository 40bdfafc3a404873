package endpoint

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iexcloud/pkg/core"
)

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	desc := &Descriptor{ID: "thing", Path: "thing/{symbol}"}
	require.NoError(t, r.Register(desc))
	assert.Equal(t, "GET", desc.Method)
	assert.Equal(t, 1, desc.Weight)
	assert.True(t, r.Exists("thing"))

	err := r.Register(&Descriptor{ID: "thing", Path: "other"})
	assert.Error(t, err)

	assert.Error(t, r.Register(&Descriptor{Path: "x"}))
	assert.Error(t, r.Register(&Descriptor{ID: "y"}))
	assert.Error(t, r.Register(nil))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope")
	require.Error(t, err)
	assert.True(t, core.IsQueryError(err))
	assert.True(t, core.IsErrorCode(err, core.ErrCodeUnknownEndpoint))
}

func TestRegistry_Concurrent(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Register(&Descriptor{ID: string(rune('a' + i)), Path: "p"})
			_ = r.IDs()
		}(i)
	}
	wg.Wait()
	assert.Len(t, r.IDs(), 20)
}

func TestDefaultCatalog(t *testing.T) {
	ids := Default().IDs()
	require.NotEmpty(t, ids)

	for _, id := range ids {
		desc := MustGet(id)
		assert.NotEmpty(t, desc.Path, id)
		assert.Positive(t, desc.Weight, id)
		for _, p := range desc.Params {
			if p.Type == TypeEnum {
				assert.NotEmpty(t, p.Allowed, "%s.%s", id, p.Name)
			}
		}
	}

	for _, id := range []string{Quote, Chart, News, Company, Peers, Dividends, Financials} {
		assert.True(t, Default().Exists(BatchPrefix+id), id)
	}
	assert.False(t, Default().Exists(BatchPrefix+Price))
}

func TestMustGet_PanicsOnUnknown(t *testing.T) {
	assert.Panics(t, func() { MustGet("does-not-exist") })
}
