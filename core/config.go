package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Debug           bool
		TestMode        bool
		Env             string // DEV (local; default), TEST, QA, PROD
		Build           string
		AppName         string
		SecretKey       string
		FrontendBaseURL string

		DefaultFromEmail string
		SendgridApiKey   string
		RollbarToken     string

		Server       ServerConfig
		Database     DatabaseConfig
		ObjectStore  ObjectStoreConfig
		Heartbeat    HeartbeatConfig
		Gamification GamificationConfig
	}

	ServerConfig struct {
		Host               string
		Port               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	ObjectStoreConfig struct {
		Bucket    string
		Region    string
		PublicURL string // base URL uploaded objects are served from
	}

	HeartbeatConfig struct {
		TickInterval time.Duration
		SyncInterval time.Duration
		// AtomicIncrement switches the activity sync write from an
		// overwrite-with-snapshot to a server-side increment-add.
		AtomicIncrement bool
	}

	GamificationConfig struct {
		AwardInterval  time.Duration
		IdleTimeout    time.Duration
		PointsPerAward int
	}
)

func (c DatabaseConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

func NewConfig() *Config {
	conf := viper.New()
	conf.SetTypeByDefaultValue(true)

	// defaults
	conf.SetDefault("debug", true)
	conf.SetDefault("appName", "Hatua")
	conf.SetDefault("build", "dev")
	conf.SetDefault("secretKey", "w7byx)#*c2(#yg4h^$cegm2emy-poq5-wer)enb$+57=dz&uo")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")

	conf.SetDefault("server.host", "0.0.0.0")
	conf.SetDefault("server.port", "8000")
	conf.SetDefault("server.debugHost", "0.0.0.0:4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	conf.SetDefault("database.engine", "postgres")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "hatua")
	conf.SetDefault("database.user", "")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.adminUser", "")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.disableTLS", true)

	conf.SetDefault("objectStore.bucket", "hatua-submissions")
	conf.SetDefault("objectStore.region", "eu-central-1")
	conf.SetDefault("objectStore.publicURL", "")

	conf.SetDefault("heartbeat.tickInterval", time.Second)
	conf.SetDefault("heartbeat.syncInterval", 30*time.Second)
	conf.SetDefault("heartbeat.atomicIncrement", false)

	conf.SetDefault("gamification.awardInterval", 2*time.Minute)
	conf.SetDefault("gamification.idleTimeout", 30*time.Second)
	conf.SetDefault("gamification.pointsPerAward", 1)

	env := os.Getenv("ENV")
	if env == "" {
		env = "DEV"
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:            conf.GetBool("debug"),
		TestMode:         env == "TEST",
		Env:              env,
		Build:            conf.GetString("build"),
		AppName:          conf.GetString("appName"),
		SecretKey:        conf.GetString("secretKey"),
		FrontendBaseURL:  conf.GetString("frontendBaseURL"),
		DefaultFromEmail: conf.GetString("defaultFromEmail"),
		SendgridApiKey:   conf.GetString("sendgridApiKey"),
		RollbarToken:     conf.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
			Port:               conf.GetString("server.port"),
			DebugHost:          conf.GetString("server.debugHost"),
			ShutdownTimeout:    conf.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: conf.GetDuration("server.jwtExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        conf.GetString("database.engine"),
			Host:          conf.GetString("database.host"),
			Port:          conf.GetString("database.port"),
			Name:          conf.GetString("database.name"),
			User:          conf.GetString("database.user"),
			Password:      conf.GetString("database.password"),
			AdminUser:     conf.GetString("database.adminUser"),
			AdminPassword: conf.GetString("database.adminPassword"),
			DisableTLS:    conf.GetBool("database.disableTLS"),
		},
		ObjectStore: ObjectStoreConfig{
			Bucket:    conf.GetString("objectStore.bucket"),
			Region:    conf.GetString("objectStore.region"),
			PublicURL: conf.GetString("objectStore.publicURL"),
		},
		Heartbeat: HeartbeatConfig{
			TickInterval:    conf.GetDuration("heartbeat.tickInterval"),
			SyncInterval:    conf.GetDuration("heartbeat.syncInterval"),
			AtomicIncrement: conf.GetBool("heartbeat.atomicIncrement"),
		},
		Gamification: GamificationConfig{
			AwardInterval:  conf.GetDuration("gamification.awardInterval"),
			IdleTimeout:    conf.GetDuration("gamification.idleTimeout"),
			PointsPerAward: conf.GetInt("gamification.pointsPerAward"),
		},
	}
}

// NewTestConfig returns a Config suitable for unit tests: short timer
// intervals so heartbeat and awarder tests run in milliseconds.
func NewTestConfig() *Config {
	conf := NewConfig()
	conf.TestMode = true
	conf.Debug = true
	conf.Heartbeat.TickInterval = time.Millisecond
	conf.Heartbeat.SyncInterval = 10 * time.Millisecond
	conf.Gamification.AwardInterval = 10 * time.Millisecond
	conf.Gamification.IdleTimeout = 5 * time.Millisecond
	return conf
}
