package subscription

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const currencySymbol = "£"

func formatAmount(amount decimal.Decimal) string {
	return currencySymbol + amount.StringFixed(2)
}

func composeMessage(direction Direction, planName string, refunded *decimal.Decimal) string {
	switch {
	case direction == DirectionUpgrade:
		return fmt.Sprintf("You've upgraded to the %s plan. Your new features are available immediately and the price difference has been invoiced.", planName)
	case direction == DirectionDowngrade && refunded != nil:
		return fmt.Sprintf("You've moved to the %s plan. A refund of %s for the unused part of your previous plan is on its way. The change applies immediately.", planName, formatAmount(*refunded))
	case direction == DirectionDowngrade:
		return fmt.Sprintf("You've moved to the %s plan. Any unused time on your previous plan has been credited to your account. The change applies immediately.", planName)
	default:
		return fmt.Sprintf("Your subscription is now on the %s plan. The change applies immediately.", planName)
	}
}
