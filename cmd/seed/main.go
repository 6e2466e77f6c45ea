package main

import (
	"context"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/hackgods/provider-availability/internal/appointment"
	"github.com/hackgods/provider-availability/internal/availability"
	"github.com/hackgods/provider-availability/internal/config"
	"github.com/hackgods/provider-availability/internal/db"
	"github.com/hackgods/provider-availability/internal/logger"
)

const providerCount = 100

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

// shifts are the weekday hours a seeded provider may work.
var shifts = []struct {
	start, end string
	duration   int
	lunch      bool
}{
	{"09:00", "17:00", 30, true},
	{"08:00", "12:00", 20, false},
	{"13:00", "20:00", 30, false},
	{"10:00", "18:00", 45, true},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{})
		bootLog.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "seed"})

	if cfg.StoreDriver != config.StorePostgres {
		log.Fatal().Msg("seed needs STORE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PostgresMaxConn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}

	svc := appointment.NewService(appointment.NewPgRepository(pool), nil, appointment.Options{Logger: &log})

	log.Info().Int("count", providerCount).Msg("seeding providers")
	for i := 0; i < providerCount; i++ {
		specialty := gofakeit.RandomString(specialties)
		p := appointment.Provider{
			ID:        uuid.New(),
			Name:      "Dr. " + gofakeit.LastName(),
			Specialty: &specialty,
		}
		if err := svc.SaveProvider(ctx, p); err != nil {
			log.Fatal().Err(err).Msg("save provider")
		}
		if err := svc.ReplaceWeek(ctx, p.ID, randomWeek()); err != nil {
			log.Fatal().Err(err).Str("provider_id", p.ID.String()).Msg("replace week")
		}
	}

	log.Info().Msg("seed complete")
}

// randomWeek picks one shift for the working days and rests on the weekend,
// occasionally working Saturday morning too.
func randomWeek() availability.Week {
	shift := shifts[gofakeit.Number(0, len(shifts)-1)]
	week := availability.RestWeek()

	for d := time.Monday; d <= time.Friday; d++ {
		rule := availability.ScheduleRule{
			Weekday:             d,
			IsAvailable:         true,
			StartTime:           availability.MustTimeOfDay(shift.start),
			EndTime:             availability.MustTimeOfDay(shift.end),
			SlotDurationMinutes: shift.duration,
		}
		if shift.lunch {
			rule.Breaks = []availability.Break{{
				Start: availability.MustTimeOfDay("12:00"),
				End:   availability.MustTimeOfDay("13:00"),
			}}
		}
		week[d] = rule
	}

	if gofakeit.Bool() {
		week[time.Saturday] = availability.ScheduleRule{
			Weekday:             time.Saturday,
			IsAvailable:         true,
			StartTime:           availability.MustTimeOfDay("09:00"),
			EndTime:             availability.MustTimeOfDay("12:00"),
			SlotDurationMinutes: 30,
		}
	}
	return week
}
