package domain

// FoldOnTime folds one delivery outcome into a partner's running on-time mean.
// It returns the new rate and the incremented order count.
func FoldOnTime(rate float64, totalOrders int, onTime bool) (float64, int) {
	totalOrders = max(totalOrders, 0)
	total := totalOrders + 1
	outcome := 0.0
	if onTime {
		outcome = 1
	}
	return (rate*float64(totalOrders) + outcome) / float64(total), total
}
