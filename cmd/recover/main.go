package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"escaperoom/internal/clock"
	"escaperoom/internal/config"
	"escaperoom/internal/database"
	"escaperoom/internal/logger"
	"escaperoom/internal/modules/dispatch"
	"escaperoom/internal/modules/hold"
	"escaperoom/internal/modules/sweeper"
	"escaperoom/internal/repository"
)

// recover releases slots left held by payment references no running server
// owns. Only holds older than HOLD_STALE_AFTER are touched.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Connect(cfg.DatabaseURL, log)
	if err != nil {
		log.WithError(err).Fatal("db connect failed")
	}

	slots := repository.NewSlotRepository(db)
	backups := repository.NewBackupRepository(db)
	s := sweeper.New(sweeper.Config{StaleAfter: cfg.HoldStaleAfter}, sweeper.Dependencies{
		Holds:      hold.NewService(hold.Dependencies{Slots: slots, Backups: backups, Logger: log}),
		Slots:      slots,
		Backups:    backups,
		Dispatcher: &dispatch.Inline{Log: log},
		Clock:      clock.NewSystem(),
		Logger:     log,
	})

	report, err := s.RecoverOrphans(context.Background())
	if err != nil {
		log.WithError(err).Fatal("orphan recovery failed")
	}
	log.WithFields(logrus.Fields{"refs": report.Swept, "released": report.Released}).Info("orphan recovery completed")
}
