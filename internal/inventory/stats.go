package inventory

import "github.com/shopspring/decimal"

// ComputeStats folds records into summary counters. It is always a full
// recomputation; callers rerun it whenever the collection changes. Stock
// counts use the record's Status when set, so a redacted quantity still
// counts under its real status.
func ComputeStats(records []Record) Stats {
	stats := Stats{
		TotalItems: len(records),
		Categories: make(map[string]int),
	}

	total := decimal.Zero
	for _, rec := range records {
		category := rec.Category
		if category == "" {
			category = DefaultCategory
		}
		stats.Categories[category]++

		total = total.Add(decimal.NewFromFloat(rec.Price).Mul(decimal.NewFromInt(int64(rec.Quantity))))

		status := rec.Status
		if status == "" {
			status = StatusFor(rec.Quantity)
		}
		switch status {
		case StatusLowStock:
			stats.LowStock++
		case StatusOutOfStock:
			stats.OutOfStock++
		}
	}
	stats.TotalValue = total.InexactFloat64()

	return stats
}
