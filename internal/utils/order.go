package utils

import "math"

// CalculateMaxQuantity calculates the maximum quantity that can be bought with
// the given cash balance at the given price, leaving reservePercent of the
// balance untouched.
func CalculateMaxQuantity(balance float64, price float64, reservePercent float64) float64 {
	if price <= 0 || balance <= 0 {
		return 0
	}

	available := balance * (1 - reservePercent/100)
	if available <= 0 {
		return 0
	}

	return available / price
}

// RoundToDecimalPrecision rounds the quantity down to the specified decimal precision.
func RoundToDecimalPrecision(quantity float64, decimalPrecision int) float64 {
	multiplier := math.Pow10(decimalPrecision)

	return math.Floor(quantity*multiplier) / multiplier
}

// CalculateOrderQuantityByPercentage sizes an order as a percentage of the
// cash balance.
func CalculateOrderQuantityByPercentage(balance float64, price float64, reservePercent float64, percentage float64) float64 {
	quantity := balance * percentage

	return CalculateMaxQuantity(quantity, price, reservePercent)
}
