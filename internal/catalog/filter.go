package catalog

import (
	"fmt"
	"strings"

	"github.com/drivana/sales-agent/internal/agent/model"
)

const selectColumns = "stock_id, brand, model, year, version, price, mileage, length, width, height, bluetooth, car_play"

// BuildFilter translates criteria into a parameterized SELECT. Text fields
// match case-insensitively, numeric fields become range predicates, and
// boolean features match against the text sentinels.
//
// A feature requirement also matches rows where the feature is unspecified
// (NULL or empty). That permissive default mirrors observed production
// behavior and is pending product confirmation.
func BuildFilter(c model.SearchCriteria, limit int) (string, []any) {
	var (
		where []string
		args  []any
	)

	addTextIn := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = "?"
			args = append(args, strings.ToLower(strings.TrimSpace(v)))
		}
		where = append(where, fmt.Sprintf("LOWER(%s) IN (%s)", column, strings.Join(ph, ", ")))
	}

	addTextIn("brand", c.Brands)
	addTextIn("model", c.Models)
	addTextIn("version", c.Versions)

	if c.PriceMin != nil {
		where = append(where, "price >= ?")
		args = append(args, *c.PriceMin)
	}
	if c.PriceMax != nil {
		where = append(where, "price <= ?")
		args = append(args, *c.PriceMax)
	}
	if c.YearMin != nil {
		where = append(where, "year >= ?")
		args = append(args, *c.YearMin)
	}
	if c.YearMax != nil {
		where = append(where, "year <= ?")
		args = append(args, *c.YearMax)
	}
	if c.MileageMax != nil {
		where = append(where, "mileage <= ?")
		args = append(args, *c.MileageMax)
	}
	if c.LengthMin != nil {
		where = append(where, "length >= ?")
		args = append(args, *c.LengthMin)
	}
	if c.WidthMin != nil {
		where = append(where, "width >= ?")
		args = append(args, *c.WidthMin)
	}
	if c.HeightMin != nil {
		where = append(where, "height >= ?")
		args = append(args, *c.HeightMin)
	}

	addFeature := func(column string, want *bool) {
		if want == nil {
			return
		}
		sentinel := FeaturePresent
		if !*want {
			sentinel = FeatureAbsent
		}
		where = append(where,
			fmt.Sprintf("(%s = ? OR %s IS NULL OR %s = '')", column, column, column))
		args = append(args, sentinel)
	}

	addFeature("bluetooth", c.Bluetooth)
	addFeature("car_play", c.CarPlay)

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(selectColumns)
	b.WriteString(" FROM cars")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY price ASC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}
	return b.String(), args
}
