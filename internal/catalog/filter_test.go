package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drivana/sales-agent/internal/agent/model"
)

func intp(v int) *int          { return &v }
func floatp(v float64) *float64 { return &v }
func boolp(v bool) *bool        { return &v }

func TestBuildFilterEmptyCriteria(t *testing.T) {
	query, args := BuildFilter(model.SearchCriteria{}, 5)

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "LIMIT ?")
	require.Len(t, args, 1)
	assert.Equal(t, 5, args[0])
}

func TestBuildFilterBrandModelYear(t *testing.T) {
	// The canonical first-turn search: "Quiero un Toyota Corolla 2020".
	c := model.SearchCriteria{
		Brands:  []string{"Toyota"},
		Models:  []string{"Corolla"},
		YearMin: intp(2020),
	}
	query, args := BuildFilter(c, 5)

	assert.Contains(t, query, "LOWER(brand) IN (?)")
	assert.Contains(t, query, "LOWER(model) IN (?)")
	assert.Contains(t, query, "year >= ?")
	require.Len(t, args, 4)
	assert.Equal(t, "toyota", args[0])
	assert.Equal(t, "corolla", args[1])
	assert.Equal(t, 2020, args[2])
	assert.Equal(t, 5, args[3])
}

func TestBuildFilterCaseInsensitiveValues(t *testing.T) {
	c := model.SearchCriteria{Brands: []string{"  TOYOTA ", "Honda"}}
	query, args := BuildFilter(c, 0)

	assert.Contains(t, query, "LOWER(brand) IN (?, ?)")
	assert.Equal(t, []any{"toyota", "honda"}, args)
	assert.NotContains(t, query, "LIMIT")
}

func TestBuildFilterNumericRanges(t *testing.T) {
	c := model.SearchCriteria{
		PriceMin:   floatp(150000),
		PriceMax:   floatp(300000),
		YearMax:    intp(2022),
		MileageMax: intp(50000),
		LengthMin:  floatp(4.2),
	}
	query, args := BuildFilter(c, 5)

	assert.Contains(t, query, "price >= ?")
	assert.Contains(t, query, "price <= ?")
	assert.Contains(t, query, "year <= ?")
	assert.Contains(t, query, "mileage <= ?")
	assert.Contains(t, query, "length >= ?")
	assert.Len(t, args, 6)
}

func TestBuildFilterFeatureSentinels(t *testing.T) {
	c := model.SearchCriteria{Bluetooth: boolp(true), CarPlay: boolp(false)}
	query, args := BuildFilter(c, 0)

	// Unspecified rows match either requirement (permissive default).
	assert.Contains(t, query, "(bluetooth = ? OR bluetooth IS NULL OR bluetooth = '')")
	assert.Contains(t, query, "(car_play = ? OR car_play IS NULL OR car_play = '')")
	assert.Equal(t, []any{FeaturePresent, FeatureAbsent}, args)
}

func TestBuildFilterParameterizesEverything(t *testing.T) {
	// Hostile text must end up as a bind parameter, never in the SQL text.
	c := model.SearchCriteria{Brands: []string{"toyota'; DROP TABLE cars; --"}}
	query, args := BuildFilter(c, 5)

	assert.NotContains(t, query, "DROP TABLE")
	assert.Contains(t, args[0], "drop table cars")
}
