package domain

import "github.com/shopspring/decimal"

var oneHundred = decimal.NewFromInt(100)

// LinePrice is the effective per-unit selling price of an item:
// mrp minus the percentage discount, before tax.
func LinePrice(item InventoryItem) decimal.Decimal {
	return item.MRP.Sub(item.MRP.Mul(item.Discount).Div(oneHundred))
}

// LineTax is the per-unit GST amount, applied to the discounted price.
func LineTax(item InventoryItem) decimal.Decimal {
	return LinePrice(item).Mul(item.GST).Div(oneHundred)
}

// ComputeTotals aggregates the financial figures for a set of cart lines.
// No rounding is applied; presentation layers round for display only.
func ComputeTotals(lines []CartLine) CartTotals {
	totals := CartTotals{
		TotalMRP:      decimal.Zero,
		TotalDiscount: decimal.Zero,
		TotalTax:      decimal.Zero,
		GrandTotal:    decimal.Zero,
	}

	for _, line := range lines {
		qty := decimal.NewFromInt(int64(line.Quantity))
		discountPerUnit := line.Item.MRP.Mul(line.Item.Discount).Div(oneHundred)

		totals.TotalMRP = totals.TotalMRP.Add(line.Item.MRP.Mul(qty))
		totals.TotalDiscount = totals.TotalDiscount.Add(discountPerUnit.Mul(qty))
		totals.TotalTax = totals.TotalTax.Add(LineTax(line.Item).Mul(qty))
	}

	totals.GrandTotal = totals.TotalMRP.Sub(totals.TotalDiscount).Add(totals.TotalTax)
	return totals
}
