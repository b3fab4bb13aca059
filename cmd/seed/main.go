package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"escaperoom/internal/clock"
	"escaperoom/internal/config"
	"escaperoom/internal/database"
	"escaperoom/internal/domain"
	"escaperoom/internal/logger"
	"escaperoom/internal/modules/inventory"
	"escaperoom/internal/modules/ledger"
	jwtsvc "escaperoom/internal/pkg/jwt"
	"escaperoom/internal/repository"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "seed",
		Short:         "Seed slot inventory, gift cards and discounts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newSlotsCmd())
	root.AddCommand(newGiftCardCmd())
	root.AddCommand(newDiscountCmd())
	root.AddCommand(newTokenCmd())
	return root
}

func open() (*config.Config, *gorm.DB, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, log, nil
}

func newSlotsCmd() *cobra.Command {
	var (
		from       string
		days       int
		years      int
		price      int64
		times      string
		categories string
	)
	c := &cobra.Command{
		Use:   "slots",
		Short: "Generate open slots for every category and time",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, log, err := open()
			if err != nil {
				return err
			}
			start := time.Now().In(cfg.Location())
			if from != "" {
				if start, err = time.ParseInLocation("2006-01-02", from, cfg.Location()); err != nil {
					return fmt.Errorf("invalid --from: %w", err)
				}
			}
			if years > 0 {
				days = int(start.AddDate(years, 0, 0).Sub(start).Hours() / 24)
			}
			n, err := inventory.Seed(cmd.Context(), repository.NewSlotRepository(db), inventory.Plan{
				From:       start,
				Days:       days,
				Times:      splitFlag(times),
				Categories: splitFlag(categories),
				Price:      price,
			})
			if err != nil {
				return err
			}
			log.WithFields(logrus.Fields{"from": start.Format("2006-01-02"), "days": days, "created": n}).Info("slots generated")
			return nil
		},
	}
	c.Flags().StringVar(&from, "from", "", "first day (YYYY-MM-DD), defaults to today")
	c.Flags().IntVar(&days, "days", 90, "number of days")
	c.Flags().IntVar(&years, "years", 0, "number of years, overrides --days")
	c.Flags().Int64Var(&price, "price", inventory.DefaultPrice, "list price in SEK")
	c.Flags().StringVar(&times, "times", "", "comma separated HH:MM start times")
	c.Flags().StringVar(&categories, "categories", "", "comma separated room categories")
	return c
}

func newGiftCardCmd() *cobra.Command {
	var (
		amount    int64
		recipient string
		email     string
	)
	c := &cobra.Command{
		Use:   "giftcard",
		Short: "Issue a paid gift card",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, log, err := open()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc := ledger.NewService(db, log, clock.NewSystem())
			card, err := svc.IssueGiftCard(ctx, ledger.IssueGiftCardRequest{
				Amount:         amount,
				RecipientName:  recipient,
				RecipientEmail: email,
				BuyerEmail:     email,
			})
			if err != nil {
				return err
			}
			// seeded cards skip checkout and are paid under their own reference
			if err := svc.AttachPayment(ctx, card.Reference, card.Reference); err != nil {
				return err
			}
			if _, err := svc.MarkGiftCardPaid(ctx, card.Reference); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "issued gift card %s for %d SEK\n", card.Reference, amount)
			return nil
		},
	}
	c.Flags().Int64Var(&amount, "amount", 0, "balance in SEK")
	c.Flags().StringVar(&recipient, "recipient", "", "recipient name")
	c.Flags().StringVar(&email, "email", "", "recipient email")
	_ = c.MarkFlagRequired("amount")
	_ = c.MarkFlagRequired("recipient")
	_ = c.MarkFlagRequired("email")
	return c
}

func newDiscountCmd() *cobra.Command {
	var (
		d          domain.Discount
		single     bool
		validFrom  string
		validTo    string
		categories string
	)
	c := &cobra.Command{
		Use:   "discount",
		Short: "Create or replace a discount code",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, _, err := open()
			if err != nil {
				return err
			}
			d.Code = strings.ToUpper(strings.TrimSpace(d.Code))
			if d.Percent < 0 || d.Percent > 100 {
				return fmt.Errorf("--percent must be between 0 and 100")
			}
			d.UsageType = domain.DiscountUnlimited
			if single {
				d.UsageType = domain.DiscountSingle
			}
			d.Categories = strings.Join(splitFlag(categories), ",")
			if d.ValidFrom, err = parseDay(validFrom, cfg.Location()); err != nil {
				return fmt.Errorf("invalid --valid-from: %w", err)
			}
			if d.ValidTo, err = parseDay(validTo, cfg.Location()); err != nil {
				return fmt.Errorf("invalid --valid-to: %w", err)
			}
			if d.ValidTo != nil {
				end := d.ValidTo.Add(24*time.Hour - time.Second)
				d.ValidTo = &end
			}

			err = db.WithContext(cmd.Context()).Transaction(func(tx *gorm.DB) error {
				if err := tx.Where("code = ?", d.Code).Delete(&domain.Discount{}).Error; err != nil {
					return err
				}
				return tx.Create(&d).Error
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discount %s saved\n", d.Code)
			return nil
		},
	}
	c.Flags().StringVar(&d.Code, "code", "", "discount code")
	c.Flags().IntVar(&d.Percent, "percent", 0, "percent off")
	c.Flags().Int64Var(&d.AmountOff, "amount-off", 0, "fixed SEK off")
	c.Flags().BoolVar(&single, "single", false, "allow a single use")
	c.Flags().IntVar(&d.MaxUses, "max-uses", 0, "usage cap, 0 for none")
	c.Flags().IntVar(&d.MinPlayers, "min-players", 0, "minimum players")
	c.Flags().Int64Var(&d.MinAmount, "min-amount", 0, "minimum order amount in SEK")
	c.Flags().StringVar(&validFrom, "valid-from", "", "first valid day (YYYY-MM-DD)")
	c.Flags().StringVar(&validTo, "valid-to", "", "last valid day (YYYY-MM-DD)")
	c.Flags().StringVar(&categories, "categories", "", "comma separated categories, empty for all")
	_ = c.MarkFlagRequired("code")
	return c
}

func newTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	c := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the /admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.JWTTTL
			}
			token, err := jwtsvc.New(cfg.JWTSecret, ttl).GenerateToken(subject, jwtsvc.RoleAdmin)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	c.Flags().StringVar(&subject, "subject", "operator", "operator name")
	c.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime, defaults to JWT_TTL")
	return c
}

func parseDay(s string, loc *time.Location) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func splitFlag(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
