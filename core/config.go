package core

import (
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

type (
	ServerConfig struct {
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only
	}

	EmailConfig struct {
		Backend           string // console | sendgrid | smtp
		SendgridAPIKey    string
		SMTPHost          string
		SMTPPort          int
		SMTPUser          string
		SMTPPassword      string
		SMTPSkipTLSVerify bool
	}

	NotificationConfig struct {
		PushBuffer  int
		Heartbeat   time.Duration
		EmailMirror bool
	}

	Config struct {
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		Env              string
		Build            string
		RollbarToken     string
		WorkDir          string
		DefaultFromEmail mail.Address
		FrontendBaseURL  string

		Server       ServerConfig
		Database     DatabaseConfig
		Email        EmailConfig
		Notification NotificationConfig
	}
)

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, dc.Port)
}

// NewConfig loads the configuration for the current ENV (DEV by default) from
// the environment and the optional `config/.env.<env>` file.
func NewConfig() *Config {
	conf := viper.New()

	// defaults
	conf.SetTypeByDefaultValue(true)
	conf.SetDefault("debug", true)
	conf.SetDefault("testMode", false)
	conf.SetDefault("appName", "Capstone")
	conf.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	conf.SetDefault("build", "develop")
	conf.SetDefault("rollbarToken", "")
	conf.SetDefault("defaultFromName", "Capstone")
	conf.SetDefault("defaultFromEmail", "noreply@localhost")
	conf.SetDefault("frontendBaseURL", "http://localhost:3000")

	conf.SetDefault("server.host", "0.0.0.0:8000")
	conf.SetDefault("server.debugHost", "0.0.0.0:4000")
	conf.SetDefault("server.shutdownTimeout", 5*time.Second)
	conf.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)

	conf.SetDefault("database.engine", "sqlite")
	conf.SetDefault("database.host", "localhost")
	conf.SetDefault("database.port", "5432")
	conf.SetDefault("database.name", "capstone")
	conf.SetDefault("database.user", "")
	conf.SetDefault("database.password", "")
	conf.SetDefault("database.adminUser", "postgres")
	conf.SetDefault("database.adminPassword", "")
	conf.SetDefault("database.disableTLS", true)
	conf.SetDefault("database.path", "capstone.db")

	conf.SetDefault("email.backend", "console")
	conf.SetDefault("email.sendgridAPIKey", "")
	conf.SetDefault("email.smtpHost", "")
	conf.SetDefault("email.smtpPort", 587)
	conf.SetDefault("email.smtpUser", "")
	conf.SetDefault("email.smtpPassword", "")
	conf.SetDefault("email.smtpSkipTLSVerify", false)

	conf.SetDefault("notification.pushBuffer", 16)
	conf.SetDefault("notification.heartbeat", 25*time.Second)
	conf.SetDefault("notification.emailMirror", false)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		conf.SetDefault("testMode", true)
	case "QA", "PROD":
		conf.SetDefault("debug", false)
	}
	conf.SetEnvPrefix(env)
	conf.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	conf.AutomaticEnv()

	return &Config{
		Debug:        conf.GetBool("debug"),
		TestMode:     conf.GetBool("testMode"),
		AppName:      conf.GetString("appName"),
		SecretKey:    conf.GetString("secretKey"),
		Env:          env,
		Build:        conf.GetString("build"),
		RollbarToken: conf.GetString("rollbarToken"),
		WorkDir:      wd,
		DefaultFromEmail: mail.Address{
			Name:    conf.GetString("defaultFromName"),
			Address: conf.GetString("defaultFromEmail"),
		},
		FrontendBaseURL: conf.GetString("frontendBaseURL"),
		Server: ServerConfig{
			Host:               conf.GetString("server.host"),
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
			Path:          conf.GetString("database.path"),
		},
		Email: EmailConfig{
			Backend:           conf.GetString("email.backend"),
			SendgridAPIKey:    conf.GetString("email.sendgridAPIKey"),
			SMTPHost:          conf.GetString("email.smtpHost"),
			SMTPPort:          conf.GetInt("email.smtpPort"),
			SMTPUser:          conf.GetString("email.smtpUser"),
			SMTPPassword:      conf.GetString("email.smtpPassword"),
			SMTPSkipTLSVerify: conf.GetBool("email.smtpSkipTLSVerify"),
		},
		Notification: NotificationConfig{
			PushBuffer:  conf.GetInt("notification.pushBuffer"),
			Heartbeat:   conf.GetDuration("notification.heartbeat"),
			EmailMirror: conf.GetBool("notification.emailMirror"),
		},
	}
}
