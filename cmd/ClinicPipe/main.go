// ClinicPipe is the clinic availability and booking conversation engine.
//
// It connects a chat transport (WhatsApp directly, or via Twilio) to a
// calendar-backed availability engine and a per-user booking state machine,
// with an LLM fallback for free-form messages and a cron-driven reminder
// sweep.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/CedarClinic/ClinicPipe/internal/api"
	"github.com/CedarClinic/ClinicPipe/internal/availability"
	"github.com/CedarClinic/ClinicPipe/internal/booking"
	"github.com/CedarClinic/ClinicPipe/internal/calendar"
	"github.com/CedarClinic/ClinicPipe/internal/clinictime"
	"github.com/CedarClinic/ClinicPipe/internal/flow"
	"github.com/CedarClinic/ClinicPipe/internal/genai"
	"github.com/CedarClinic/ClinicPipe/internal/lockfile"
	"github.com/CedarClinic/ClinicPipe/internal/messaging"
	"github.com/CedarClinic/ClinicPipe/internal/models"
	"github.com/CedarClinic/ClinicPipe/internal/reminder"
	"github.com/CedarClinic/ClinicPipe/internal/scheduler"
	"github.com/CedarClinic/ClinicPipe/internal/session"
	"github.com/CedarClinic/ClinicPipe/internal/twiliowhatsapp"
	"github.com/CedarClinic/ClinicPipe/internal/util"
	"github.com/CedarClinic/ClinicPipe/internal/whatsapp"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for ClinicPipe state data.
	DefaultStateDir = "/var/lib/clinicpipe"
	// DefaultReminderCron runs the reminder sweep every five minutes.
	DefaultReminderCron = "*/5 * * * *"
	// DefaultSessionPurgeCron prunes expired SQL sessions hourly.
	DefaultSessionPurgeCron = "0 * * * *"
)

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	lock, err := lockfile.Acquire(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to lock state directory", "dir", *flags.stateDir, "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("ClinicPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("ClinicPipe exited successfully")
}

// Config holds environment configuration.
type Config struct {
	Timezone         string
	StateDir         string
	APIAddr          string
	PublicURL        string
	Transport        string
	WhatsAppDSN      string
	SessionDSN       string
	ClinicFile       string
	CalendarID       string
	CredentialsFile  string
	OpenAIKey        string
	TwilioAuthToken  string
	ReminderCron     string
	SessionPurgeCron string
}

// Flags holds command line flag values.
type Flags struct {
	timezone         *string
	stateDir         *string
	apiAddr          *string
	publicURL        *string
	transport        *string
	whatsappDSN      *string
	qrOutput         *string
	numericCode      *bool
	sessionDSN       *string
	sessionTTL       *time.Duration
	clinicFile       *string
	calendarID       *string
	credentialsFile  *string
	openaiKey        *string
	twilioAuthToken  *string
	reminderCron     *string
	sessionPurgeCron *string
}

// initializeLogger sets up structured logging.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CLINICPIPE_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	return Config{
		Timezone:         util.EnvOrDefault("CLINICPIPE_TIMEZONE", clinictime.DefaultZone),
		StateDir:         util.EnvOrDefault("CLINICPIPE_STATE_DIR", DefaultStateDir),
		APIAddr:          util.EnvOrDefault("API_ADDR", api.DefaultAddr),
		PublicURL:        os.Getenv("CLINICPIPE_PUBLIC_URL"),
		Transport:        util.EnvOrDefault("CLINICPIPE_TRANSPORT", "whatsapp"),
		WhatsAppDSN:      os.Getenv("WHATSAPP_DB_DSN"),
		SessionDSN:       os.Getenv("CLINICPIPE_SESSION_DSN"),
		ClinicFile:       os.Getenv("CLINICPIPE_CLINIC_FILE"),
		CalendarID:       os.Getenv("GOOGLE_CALENDAR_ID"),
		CredentialsFile:  os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		ReminderCron:     util.EnvOrDefault("CLINICPIPE_REMINDER_CRON", DefaultReminderCron),
		SessionPurgeCron: util.EnvOrDefault("CLINICPIPE_SESSION_PURGE_CRON", DefaultSessionPurgeCron),
	}
}

// parseCommandLineFlags parses flags with environment values as defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		timezone:         flag.String("timezone", config.Timezone, "IANA time zone of the clinic"),
		stateDir:         flag.String("state-dir", config.StateDir, "directory for state data"),
		apiAddr:          flag.String("addr", config.APIAddr, "API listen address"),
		publicURL:        flag.String("public-url", config.PublicURL, "externally visible base URL (for webhook signature validation)"),
		transport:        flag.String("transport", config.Transport, "chat transport: whatsapp or twilio"),
		whatsappDSN:      flag.String("whatsapp-dsn", config.WhatsAppDSN, "whatsmeow database DSN"),
		qrOutput:         flag.String("qr-output", "", "write the WhatsApp login QR code to this file"),
		numericCode:      flag.Bool("numeric-code", false, "print a numeric WhatsApp login code instead of a QR code"),
		sessionDSN:       flag.String("session-dsn", config.SessionDSN, "session store DSN (sqlite path, postgres://, or redis://)"),
		sessionTTL:       flag.Duration("session-ttl", session.DefaultTTL, "session inactivity expiry"),
		clinicFile:       flag.String("clinic-config", config.ClinicFile, "JSON file with the service catalog and work hours"),
		calendarID:       flag.String("calendar-id", config.CalendarID, "Google Calendar ID"),
		credentialsFile:  flag.String("google-credentials", config.CredentialsFile, "Google service account credentials file"),
		openaiKey:        flag.String("openai-key", config.OpenAIKey, "OpenAI API key for the conversational fallback"),
		twilioAuthToken:  flag.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (enables webhook signature validation)"),
		reminderCron:     flag.String("reminder-cron", config.ReminderCron, "cron expression for the reminder sweep"),
		sessionPurgeCron: flag.String("session-purge-cron", config.SessionPurgeCron, "cron expression for expired session cleanup"),
	}
	flag.Parse()
	return flags
}

func run(ctx context.Context, flags Flags) error {
	loc, err := clinictime.LoadZone(*flags.timezone)
	if err != nil {
		return err
	}
	catalog := models.DefaultCatalog()
	hours := models.DefaultWorkHours()
	if *flags.clinicFile != "" {
		catalog, hours, err = models.LoadClinicConfig(*flags.clinicFile)
		if err != nil {
			return err
		}
		slog.Info("Loaded clinic configuration", "file", *flags.clinicFile, "services", len(catalog))
	}

	cal, err := buildCalendar(ctx, flags)
	if err != nil {
		return err
	}
	sessions, err := buildSessionStore(flags)
	if err != nil {
		return err
	}
	defer sessions.Close()

	engine := availability.New(cal, hours, catalog, loc)
	handler := booking.NewHandler(cal, catalog, loc)

	var machineOpts []flow.MachineOption
	if *flags.openaiKey != "" {
		client, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return err
		}
		machineOpts = append(machineOpts, flow.WithBridge(flow.NewBridge(client, engine, handler, catalog)))
		slog.Info("Conversational fallback enabled")
	} else {
		slog.Warn("OPENAI_API_KEY not set; free-form messages get static help text")
	}
	machine := flow.NewMachine(sessions, engine, handler, catalog, machineOpts...)

	msgService, err := buildMessaging(flags)
	if err != nil {
		return err
	}

	sched := scheduler.NewScheduler()
	defer sched.Stop()

	sweeper := reminder.NewSweeper(cal, msgService, catalog, loc)
	if err := sched.AddJob("reminder-sweep", *flags.reminderCron, func() {
		if err := sweeper.Sweep(context.Background()); err != nil {
			slog.Error("Reminder sweep failed", "error", err)
		}
	}); err != nil {
		return err
	}
	if sqlStore, ok := sessions.(*session.SQLStore); ok {
		if err := sched.AddJob("session-purge", *flags.sessionPurgeCron, func() {
			if err := sqlStore.PurgeExpired(context.Background()); err != nil {
				slog.Error("Session purge failed", "error", err)
			}
		}); err != nil {
			return err
		}
	}

	srv := api.NewServer(machine, msgService, handler,
		api.WithAddr(*flags.apiAddr),
		api.WithTwilioAuthToken(*flags.twilioAuthToken),
		api.WithPublicURL(*flags.publicURL))
	slog.Info("Bootstrapping ClinicPipe",
		"timezone", *flags.timezone, "transport", *flags.transport, "addr", *flags.apiAddr)
	return srv.Run(ctx)
}

// buildCalendar selects Google Calendar when configured, otherwise an
// in-memory calendar suitable for demos and development.
func buildCalendar(ctx context.Context, flags Flags) (calendar.Service, error) {
	if *flags.calendarID == "" {
		slog.Warn("GOOGLE_CALENDAR_ID not set; using in-memory calendar (bookings are lost on restart)")
		return calendar.NewMemoryService(), nil
	}
	opts := []calendar.GoogleOption{calendar.WithCalendarID(*flags.calendarID), calendar.WithTimeZone(*flags.timezone)}
	if *flags.credentialsFile != "" {
		opts = append(opts, calendar.WithCredentialsFile(*flags.credentialsFile))
	}
	return calendar.NewGoogleService(ctx, opts...)
}

// buildSessionStore selects the session backend from the DSN shape.
func buildSessionStore(flags Flags) (session.Store, error) {
	dsn := *flags.sessionDSN
	if dsn == "" {
		slog.Warn("CLINICPIPE_SESSION_DSN not set; using in-memory sessions")
		return session.NewMemoryStore(session.WithTTL(*flags.sessionTTL)), nil
	}
	opts := []session.Option{session.WithDSN(dsn), session.WithTTL(*flags.sessionTTL)}
	if session.DetectDSNType(dsn) == "redis" {
		return session.NewRedisStore(opts...)
	}
	return session.NewSQLStore(opts...)
}

// buildMessaging selects the chat transport.
func buildMessaging(flags Flags) (messaging.Service, error) {
	switch *flags.transport {
	case "twilio":
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	default:
		opts := []whatsapp.Option{}
		if *flags.whatsappDSN != "" {
			opts = append(opts, whatsapp.WithDBDSN(*flags.whatsappDSN))
		}
		if *flags.qrOutput != "" {
			opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numericCode {
			opts = append(opts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(opts...)
		if err != nil {
			return nil, err
		}
		return messaging.NewWhatsAppService(client), nil
	}
}
