package panel

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader() *Loader {
	return NewLoader(DefaultAliases, zerolog.New(nil).Level(zerolog.Disabled))
}

var pricesSchema = Schema{Name: "prices", Entity: "permno", Secondary: "ncusip"}

func TestLoad_ResolvesAliasesAndNormalizesDates(t *testing.T) {
	csv := " PERMNO ,NCUSIP,DataDate,PRC,ticker\n" +
		"10001.0,36720410,1990-01-31,-12.5,GAS\n" +
		"10001,36720410,1990-02-28,13,GAS\n"

	store, stats, err := newTestLoader().Load([]byte(csv), pricesSchema)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Rows)
	assert.False(t, stats.Fallback)
	assert.Equal(t, []string{"ticker"}, stats.DroppedColumns)
	assert.Equal(t, []string{"prc"}, store.FeatureNames)
	assert.Equal(t, "permno", store.EntityColumn)

	first := store.Records[0]
	assert.Equal(t, "10001", first.EntityID)
	assert.Equal(t, "36720410", first.SecondaryID)
	assert.Equal(t, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), first.Date)
	assert.Equal(t, -12.5, store.Feature(first, "prc"))
}

func TestLoad_SkipsMalformedAndUndatedRows(t *testing.T) {
	csv := "permno,ncusip,date,prc\n" +
		"1,A,1990-01-31,10\n" +
		"1,A,1990-02-28\n" +
		"1,A,not-a-date,11\n" +
		",A,1990-03-31,12\n" +
		"1,A,1990-04-30,\n"

	store, stats, err := newTestLoader().Load([]byte(csv), pricesSchema)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.MalformedRows)
	assert.Equal(t, 1, stats.BadDateRows)
	assert.Equal(t, 1, stats.MissingIDRows)
	require.Equal(t, 2, store.Len())
	assert.True(t, math.IsNaN(store.Feature(store.Records[1], "prc")))
}

func TestLoad_Latin1Fallback(t *testing.T) {
	// 0xE9 is "é" in latin1 and invalid as standalone UTF-8.
	data := []byte("permno,ncusip,date,prc,name\n1,A,1990-01-31,10,caf\xe9\n")

	store, stats, err := newTestLoader().Load(data, pricesSchema)
	require.NoError(t, err)

	assert.True(t, stats.Fallback)
	assert.Equal(t, 1, store.Len())
}

func TestLoad_AmbiguousAliasRejected(t *testing.T) {
	csv := "permno,ncusip,public_date,datadate,prc\n1,A,1990-01-31,1990-01-31,10\n"

	_, _, err := newTestLoader().Load([]byte(csv), pricesSchema)
	assert.ErrorIs(t, err, ErrAmbiguousColumn)
}

func TestLoad_MissingRequiredColumn(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"no entity", "ncusip,date,prc\nA,1990-01-31,10\n"},
		{"no secondary", "permno,date,prc\n1,1990-01-31,10\n"},
		{"no date", "permno,ncusip,prc\n1,A,10\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestLoader().Load([]byte(tt.csv), pricesSchema)
			assert.ErrorIs(t, err, ErrMissingColumn)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratios.csv")
	require.NoError(t, os.WriteFile(path, []byte("gvkey,permno,public_date,bm\n001004,54594,2001-03-31,0.8\n"), 0644))

	store, _, err := newTestLoader().LoadFile(path, Schema{Name: "ratios", Entity: "permno", Secondary: "gvkey"})
	require.NoError(t, err)

	require.Equal(t, 1, store.Len())
	assert.Equal(t, "001004", store.Records[0].SecondaryID)
	assert.Equal(t, 0.8, store.Feature(store.Records[0], "bm"))
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "10001", NormalizeID(" 10001.0 "))
	assert.Equal(t, "10001", NormalizeID("10001"))
	assert.Equal(t, "12345E10", NormalizeID("12345E10"))
	assert.Equal(t, "1.5", NormalizeID("1.5"))
	assert.Equal(t, "", NormalizeID("  "))
}

func TestResolve_KeepsUnknownHeaders(t *testing.T) {
	names, err := DefaultAliases.Resolve([]string{"Public_Date", "ROA ", "LPERMNO"})
	require.NoError(t, err)
	assert.Equal(t, []string{"date", "roa", "permno"}, names)
}
