// Package inventory generates the bookable slot rows.
package inventory

import (
	"context"
	"time"

	"escaperoom/internal/domain"
)

const DefaultPrice int64 = 850

var (
	DefaultTimes = []string{"09:30", "11:00", "12:30", "14:00", "15:30", "17:00", "18:30", "20:00", "21:30"}

	DefaultCategories = []string{"SCHOOL OF MAGIC", "HAUNTED HOTEL", "ARK RAIDER", "SUBMARINE", "JURRASIC EXPERIMENT"}
)

type Plan struct {
	From       time.Time
	Days       int
	Times      []string
	Categories []string
	Price      int64
}

type SlotWriter interface {
	CreateBatch(ctx context.Context, slots []domain.Slot) (int64, error)
}

// Generate lists one open slot per day, category and time, starting at the
// calendar day of p.From.
func Generate(p Plan) []domain.Slot {
	if len(p.Times) == 0 {
		p.Times = DefaultTimes
	}
	if len(p.Categories) == 0 {
		p.Categories = DefaultCategories
	}
	if p.Price <= 0 {
		p.Price = DefaultPrice
	}

	start := time.Date(p.From.Year(), p.From.Month(), p.From.Day(), 0, 0, 0, 0, time.UTC)
	out := make([]domain.Slot, 0, p.Days*len(p.Times)*len(p.Categories))
	for d := 0; d < p.Days; d++ {
		day := start.AddDate(0, 0, d)
		for _, cat := range p.Categories {
			for _, t := range p.Times {
				k := domain.SlotKey{Year: day.Year(), Month: day.Month(), Day: day.Day(), Category: cat, Time: t}
				out = append(out, domain.Slot{
					SlotKey:   k.String(),
					Year:      k.Year,
					Month:     int(k.Month),
					Day:       k.Day,
					Category:  k.Category,
					Time:      k.Time,
					Price:     p.Price,
					Available: domain.SlotOpen,
				})
			}
		}
	}
	return out
}

// Seed writes the plan, skipping slots that already exist, and returns how
// many rows were created.
func Seed(ctx context.Context, w SlotWriter, p Plan) (int64, error) {
	return w.CreateBatch(ctx, Generate(p))
}
