package server

import (
	"testing"

	"HistPull/internal/domain/models"
	"HistPull/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSymbols_DedupAcrossCategories(t *testing.T) {
	cfg := &config.Config{}
	cfg.Catalog = map[string][]string{
		"index":  {"NSE:NIFTY50-INDEX", "NSE:SBIN-EQ"},
		"equity": {"NSE:SBIN-EQ", "NSE:INFY-EQ", ""},
	}

	got := Symbols(cfg)
	assert.Equal(t, []models.SymbolRef{
		{Category: "equity", Symbol: "NSE:INFY-EQ"},
		{Category: "equity", Symbol: "NSE:SBIN-EQ"},
		{Category: "index", Symbol: "NSE:NIFTY50-INDEX"},
	}, got)

	cfg.Acquisition.Categories = []string{"index"}
	got = Symbols(cfg)
	require.Len(t, got, 2)
	assert.Equal(t, "index", got[0].Category)
}
