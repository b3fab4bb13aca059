package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Direct mails confirmations from the calling goroutine.
type Direct struct {
	sender Sender
	log    *logrus.Logger
}

func NewDirect(sender Sender, log *logrus.Logger) *Direct {
	return &Direct{sender: sender, log: log}
}

func (d *Direct) BookingConfirmed(ctx context.Context, c BookingConfirmation) error {
	if err := deliver(ctx, d.sender, Message{Type: TypeBookingConfirmed, Booking: &c}); err != nil {
		return err
	}
	d.log.WithField("booking_ref", c.BookingRef).Info("booking confirmation sent")
	return nil
}

func (d *Direct) GiftCardIssued(ctx context.Context, g GiftCardIssued) error {
	if err := deliver(ctx, d.sender, Message{Type: TypeGiftCardIssued, GiftCard: &g}); err != nil {
		return err
	}
	d.log.WithField("gift_card_ref", g.Reference).Info("gift card email sent")
	return nil
}
