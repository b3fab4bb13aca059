package notify

import (
	"fmt"
	"strings"

	"escaperoom/internal/domain"
)

func renderBooking(c BookingConfirmation) (string, string) {
	subject := "Booking confirmed - " + c.BookingRef
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\nYour booking is confirmed.\n\n", c.CustomerName)
	fmt.Fprintf(&b, "Booking reference: %s\n", c.BookingRef)
	for _, k := range c.SlotKeys {
		fmt.Fprintf(&b, "  %s\n", describeSlot(k))
	}
	fmt.Fprintf(&b, "Players: %d\n", c.Players)
	fmt.Fprintf(&b, "Total: %d SEK\n", c.Total)
	if c.GiftCardDebited > 0 {
		fmt.Fprintf(&b, "Paid with gift card: %d SEK\n", c.GiftCardDebited)
	}
	if c.Charged > 0 {
		fmt.Fprintf(&b, "Paid with %s: %d SEK\n", c.Provider, c.Charged)
	}
	if c.DiscountCode != "" {
		fmt.Fprintf(&b, "Discount code: %s\n", c.DiscountCode)
	}
	if !c.BookedAt.IsZero() {
		fmt.Fprintf(&b, "Booked at: %s\n", c.BookedAt.Format("2006-01-02 15:04 MST"))
	}
	b.WriteString("\nPlease arrive 15 minutes before your time.\n")
	return subject, b.String()
}

func renderGiftCard(g GiftCardIssued) (string, string) {
	subject := "Your gift card " + g.Reference
	body := fmt.Sprintf(`Hi %s,

You have received a gift card worth %d SEK.

Gift card code: %s

Enter the code at checkout to use it.
`, g.RecipientName, g.Amount, g.Reference)
	return subject, body
}

// describeSlot turns a slot key into "12 June 2026, SUBMARINE 17:00".
func describeSlot(key string) string {
	k, err := domain.ParseSlotKey(key)
	if err != nil {
		return key
	}
	return fmt.Sprintf("%d %s %d, %s %s", k.Day, k.Month, k.Year, k.Category, k.Time)
}
