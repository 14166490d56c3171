package services

import (
	"strconv"

	domain "github.com/vesoko/marketplace-api/internal/domain"
)

// Defaults applied when a product never declared a physical attribute.
const (
	defaultItemWeightPounds = 1.0
	defaultItemLengthInches = 6.0
	defaultItemWidthInches  = 6.0
	defaultItemHeightInches = 4.0
)

const (
	parcelDistanceUnit = "in"
	parcelMassUnit     = "lb"
)

// BuildParcel collapses one seller's lines into a single parcel specification
// for a carrier rate request. Weight and height scale with quantity (stacked
// units); length and width take the largest single item's footprint.
// Side-by-side packing is deliberately not modelled, so the result is an
// approximation rather than a physically exact parcel.
func BuildParcel(lines []domain.CartLine) domain.ParcelSpec {
	var weight, height float64
	var length, width float64

	for _, line := range lines {
		qty := line.Quantity
		if qty <= 0 {
			qty = 1
		}

		w := line.WeightPounds
		if w <= 0 {
			w = defaultItemWeightPounds
		}
		l := line.LengthInches
		if l <= 0 {
			l = defaultItemLengthInches
		}
		wd := line.WidthInches
		if wd <= 0 {
			wd = defaultItemWidthInches
		}
		h := line.HeightInches
		if h <= 0 {
			h = defaultItemHeightInches
		}

		weight += w * float64(qty)
		height += h * float64(qty)
		if l > length {
			length = l
		}
		if wd > width {
			width = wd
		}
	}

	if length <= 0 {
		length = defaultItemLengthInches
	}
	if width <= 0 {
		width = defaultItemWidthInches
	}

	return domain.ParcelSpec{
		Length:       formatDimension(length),
		Width:        formatDimension(width),
		Height:       formatDimension(height),
		Weight:       formatDimension(weight),
		DistanceUnit: parcelDistanceUnit,
		MassUnit:     parcelMassUnit,
	}
}

func formatDimension(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
