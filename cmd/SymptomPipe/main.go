package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"github.com/BTreeMap/SymptomPipe/internal/api"
	"github.com/BTreeMap/SymptomPipe/internal/genai"
	"github.com/BTreeMap/SymptomPipe/internal/lockfile"
	"github.com/BTreeMap/SymptomPipe/internal/notify"
	"github.com/BTreeMap/SymptomPipe/internal/store"
	"github.com/BTreeMap/SymptomPipe/internal/util"
	"github.com/BTreeMap/SymptomPipe/internal/weather"
	"github.com/BTreeMap/SymptomPipe/internal/wizard"
	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for SymptomPipe state data
	DefaultStateDir = "/var/lib/symptompipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "symptompipe.db"
)

func main() {
	initializeLogger()
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir, *flags.apiAddr)
	if err != nil {
		slog.Error("Failed to lock state directory", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lock.Release()

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	notifyOpts := buildNotifyOptions(flags)
	weatherOpts := buildWeatherOptions(flags)
	apiOpts := buildAPIOptions(flags)

	if *flags.showQR || *flags.qrOutput != "" {
		if err := printAccessQR(flags); err != nil {
			slog.Warn("Failed to print access QR code", "error", err)
		}
	}

	slog.Info("Bootstrapping SymptomPipe with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "genai", len(genaiOpts), "notify", len(notifyOpts), "weather", len(weatherOpts), "api", len(apiOpts))
	if err := api.Run(storeOpts, genaiOpts, notifyOpts, weatherOpts, apiOpts); err != nil {
		slog.Error("SymptomPipe failed to run", "error", err)
		lock.Release()
		os.Exit(1)
	}
	slog.Info("SymptomPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	OpenAIKey        string
	OpenAIModel      string
	GenAIDebug       bool
	APIAddr          string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	CaregiverPhone   string
	AlertThreshold   int
	WeatherLatitude  float64
	WeatherLongitude float64
	HasWeather       bool
	ShowQR           bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	openaiKey        *string
	openaiModel      *string
	genaiDebug       *bool
	apiAddr          *string
	twilioAccountSID *string
	twilioAuthToken  *string
	twilioFrom       *string
	caregiverPhone   *string
	alertThreshold   *int
	weatherLat       *float64
	weatherLon       *float64
	hasWeather       bool
	showQR           *bool
	qrOutput         *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("SYMPTOMPIPE_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		OpenAIKey:        os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:      os.Getenv("OPENAI_MODEL"),
		GenAIDebug:       util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:          os.Getenv("API_ADDR"),
		TwilioAccountSID: os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: os.Getenv("TWILIO_FROM_NUMBER"),
		CaregiverPhone:   os.Getenv("CAREGIVER_PHONE"),
		AlertThreshold:   util.ParseIntEnv("ALERT_SEVERITY_THRESHOLD", wizard.DefaultAlertThreshold),
		ShowQR:           util.ParseBoolEnv("SHOW_QR", false),
	}

	lat, latOK := util.ParseFloatEnv("WEATHER_LATITUDE")
	lon, lonOK := util.ParseFloatEnv("WEATHER_LONGITUDE")
	if latOK && lonOK {
		config.WeatherLatitude, config.WeatherLongitude, config.HasWeather = lat, lon, true
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SYMPTOMPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"SYMPTOMPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioAccountSID != "",
		"CAREGIVER_PHONE_SET", config.CaregiverPhone != "",
		"ALERT_SEVERITY_THRESHOLD", config.AlertThreshold,
		"WEATHER_SET", config.HasWeather)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	return parseFlags(flag.CommandLine, os.Args[1:], config)
}

func parseFlags(fs *flag.FlagSet, args []string, config Config) Flags {
	flags := Flags{
		stateDir:         fs.String("state-dir", config.StateDir, "state directory for SymptomPipe data (overrides $SYMPTOMPIPE_STATE_DIR)"),
		dbDSN:            fs.String("db-dsn", config.DatabaseURL, "database DSN, a Postgres URL or SQLite path (overrides $DATABASE_URL)"),
		openaiKey:        fs.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:      fs.String("openai-model", config.OpenAIModel, "OpenAI model for log summaries (overrides $OPENAI_MODEL)"),
		genaiDebug:       fs.Bool("genai-debug", config.GenAIDebug, "write GenAI requests to the state directory (overrides $GENAI_DEBUG)"),
		apiAddr:          fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		twilioAccountSID: fs.String("twilio-account-sid", config.TwilioAccountSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioAuthToken:  fs.String("twilio-auth-token", config.TwilioAuthToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:       fs.String("twilio-from", config.TwilioFromNumber, "Twilio sending number (overrides $TWILIO_FROM_NUMBER)"),
		caregiverPhone:   fs.String("caregiver-phone", config.CaregiverPhone, "number alerted about severe logs (overrides $CAREGIVER_PHONE)"),
		alertThreshold:   fs.Int("alert-threshold", config.AlertThreshold, "severity that triggers a caregiver alert (overrides $ALERT_SEVERITY_THRESHOLD)"),
		weatherLat:       fs.Float64("weather-lat", config.WeatherLatitude, "latitude for weather readings (overrides $WEATHER_LATITUDE)"),
		weatherLon:       fs.Float64("weather-lon", config.WeatherLongitude, "longitude for weather readings (overrides $WEATHER_LONGITUDE)"),
		showQR:           fs.Bool("qr", config.ShowQR, "print the API URL as a QR code (overrides $SHOW_QR)"),
		qrOutput:         fs.String("qr-output", "", "path to write the API URL QR code"),
		hasWeather:       config.HasWeather,
	}

	if err := fs.Parse(args); err != nil {
		slog.Warn("flag parsing failed", "error", err)
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "weather-lat" || f.Name == "weather-lon" {
			flags.hasWeather = true
		}
	})

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"caregiverSet", *flags.caregiverPhone != "",
		"alertThreshold", *flags.alertThreshold,
		"weather", flags.hasWeather,
		"showQR", *flags.showQR)

	// Follow an overridden state directory when the DSN is the default SQLite path.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory and, for SQLite, the database directory
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	if *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == store.DriverSQLite {
		dirs = append(dirs, filepath.Dir(*flags.dbDSN))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return nil
	}
	if store.DetectDSNType(*flags.dbDSN) == store.DriverPostgres {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildNotifyOptions constructs Twilio notifier options
func buildNotifyOptions(flags Flags) []notify.Option {
	var notifyOpts []notify.Option
	if *flags.twilioAccountSID != "" {
		notifyOpts = append(notifyOpts, notify.WithAccountSID(*flags.twilioAccountSID))
	}
	if *flags.twilioAuthToken != "" {
		notifyOpts = append(notifyOpts, notify.WithAuthToken(*flags.twilioAuthToken))
	}
	if *flags.twilioFrom != "" {
		notifyOpts = append(notifyOpts, notify.WithFromNumber(*flags.twilioFrom))
	}
	return notifyOpts
}

// buildWeatherOptions returns nil when no coordinates were configured
func buildWeatherOptions(flags Flags) []weather.Option {
	if !flags.hasWeather {
		return nil
	}
	return []weather.Option{weather.WithCoordinates(*flags.weatherLat, *flags.weatherLon)}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.caregiverPhone != "" {
		apiOpts = append(apiOpts, api.WithCaregiverPhone(*flags.caregiverPhone))
	}
	apiOpts = append(apiOpts, api.WithAlertThreshold(*flags.alertThreshold))
	return apiOpts
}

// accessURL is the URL a phone on the same network would open.
func accessURL(addr string) string {
	if addr == "" {
		addr = api.DefaultServerAddress
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// printAccessQR renders the API URL as a terminal QR code
func printAccessQR(flags Flags) error {
	writer := io.Writer(os.Stdout)
	if *flags.qrOutput != "" {
		f, err := os.Create(*flags.qrOutput)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	url := accessURL(*flags.apiAddr)
	slog.Info("SymptomPipe API URL", "url", url)
	qrterminal.GenerateHalfBlock(url, qrterminal.L, writer)
	return nil
}
