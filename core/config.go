package core

import (
	"fmt"
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// MaxPushBatchSize is the largest number of device tokens a push provider accepts per call.
const MaxPushBatchSize = 500

type (
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

	ServerConfig struct {
		Host            string
		Address         string
		DebugAddress    string
		ShutdownTimeout time.Duration
	}

	NotifyConfig struct {
		DebounceWindow      time.Duration
		PushTimeout         time.Duration
		PushBatchSize       int
		PushConcurrency     int
		FirebaseCredentials string
		EmailEnabled        bool
		EmailTimeout        time.Duration
	}

	JobsConfig struct {
		Enabled               bool
		DeactivateSpec        string
		TokenCleanupSpec      string
		NotificationPruneSpec string
		InactiveAfter         time.Duration
		PushTokenTTL          time.Duration
		NotificationRetention time.Duration
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		FromEmail        string
		FromName         string
		SendgridApiKey   string
		RollbarToken     string
		FrontendBaseURL  string
		PlaceholderEmail string // domain used for students created from spreadsheet data

		Database DatabaseConfig
		Server   ServerConfig
		Notify   NotifyConfig
		Jobs     JobsConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.FromName, Address: c.FromEmail}
}

// NewConfig loads the configuration of the current ENV (DEV by default) from the environment.
func NewConfig() *Config {
	return newConfig(viper.New())
}

func newConfig(v *viper.Viper) *Config {
	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Gradebook")
	v.SetDefault("fromEmail", "noreply@localhost")
	v.SetDefault("fromName", "Gradebook")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("placeholderEmailDomain", "students.invalid")

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "gradebook")
	v.SetDefault("dbUser", "gradebook")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("serverHost", "localhost")
	v.SetDefault("serverAddress", ":8000")
	v.SetDefault("serverDebugAddress", ":4000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)

	v.SetDefault("notifyDebounceWindow", 5*time.Second)
	v.SetDefault("notifyPushTimeout", 10*time.Second)
	v.SetDefault("notifyPushBatchSize", MaxPushBatchSize)
	v.SetDefault("notifyPushConcurrency", 4)
	v.SetDefault("notifyFirebaseCredentials", "")
	v.SetDefault("notifyEmailEnabled", false)
	v.SetDefault("notifyEmailTimeout", 10*time.Second)

	v.SetDefault("jobsEnabled", true)
	v.SetDefault("jobsDeactivateSpec", "@daily")
	v.SetDefault("jobsTokenCleanupSpec", "@every 6h")
	v.SetDefault("jobsNotificationPruneSpec", "@weekly")
	v.SetDefault("jobsInactiveAfter", 180*24*time.Hour)
	v.SetDefault("jobsPushTokenTTL", 60*24*time.Hour)
	v.SetDefault("jobsNotificationRetention", 90*24*time.Hour)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		FromEmail:        v.GetString("fromEmail"),
		FromName:         v.GetString("fromName"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		PlaceholderEmail: v.GetString("placeholderEmailDomain"),
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			Address:         v.GetString("serverAddress"),
			DebugAddress:    v.GetString("serverDebugAddress"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
		},
		Notify: NotifyConfig{
			DebounceWindow:      v.GetDuration("notifyDebounceWindow"),
			PushTimeout:         v.GetDuration("notifyPushTimeout"),
			PushBatchSize:       v.GetInt("notifyPushBatchSize"),
			PushConcurrency:     v.GetInt("notifyPushConcurrency"),
			FirebaseCredentials: v.GetString("notifyFirebaseCredentials"),
			EmailEnabled:        v.GetBool("notifyEmailEnabled"),
			EmailTimeout:        v.GetDuration("notifyEmailTimeout"),
		},
		Jobs: JobsConfig{
			Enabled:               v.GetBool("jobsEnabled"),
			DeactivateSpec:        v.GetString("jobsDeactivateSpec"),
			TokenCleanupSpec:      v.GetString("jobsTokenCleanupSpec"),
			NotificationPruneSpec: v.GetString("jobsNotificationPruneSpec"),
			InactiveAfter:         v.GetDuration("jobsInactiveAfter"),
			PushTokenTTL:          v.GetDuration("jobsPushTokenTTL"),
			NotificationRetention: v.GetDuration("jobsNotificationRetention"),
		},
	}
	if err := conf.check(); err != nil {
		log.Fatalf("config: %v", err)
	}
	return conf
}

func (c *Config) check() error {
	if c.Notify.PushBatchSize <= 0 || c.Notify.PushBatchSize > MaxPushBatchSize {
		return fmt.Errorf("notifyPushBatchSize must be in [1, %d], got %d", MaxPushBatchSize, c.Notify.PushBatchSize)
	}
	if c.Notify.DebounceWindow <= 0 {
		return fmt.Errorf("notifyDebounceWindow must be positive, got %s", c.Notify.DebounceWindow)
	}
	if c.Notify.PushConcurrency <= 0 {
		c.Notify.PushConcurrency = 1
	}
	return nil
}
