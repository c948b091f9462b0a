package config

import (
	"fmt"
	"github.com/ilyakaznacheev/cleanenv"
	"log"
	"sync"
	"time"
)

type Listen struct {
	BindIp string `yaml:"bind_ip" env:"LISTEN_BIND_IP" env-default:"0.0.0.0"`
	Port   string `yaml:"port" env:"PORT" env-default:"8080"`
	// RedirectOrigins are the front-end origins cancel links may return to.
	RedirectOrigins []string `yaml:"redirect_origins" env:"REDIRECT_ORIGINS" env-separator:","`
}

type StripeConfig struct {
	APIKey            string `yaml:"api_key" env:"STRIPE_SECRET_KEY" env-default:""`
	WebhookSecret     string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET" env-default:""`
	TestMode          bool   `yaml:"test_mode" env-default:"false"`
	TestKey           string `yaml:"test_key" env-default:""`
	TestWebhookSecret string `yaml:"test_webhook_secret" env-default:""`
	Currency          string `yaml:"currency" env-default:"usd"`
	// MinimumAmount is the smallest chargeable amount in minor units.
	MinimumAmount int64 `yaml:"minimum_amount" env-default:"50"`
	// PotCreatePrice is charged for paid pot creation, in minor units.
	PotCreatePrice int64 `yaml:"pot_create_price" env:"POT_CREATE_PRICE_CENTS" env-default:"1000"`
	// RetryOnWriteFailure answers the webhook with 500 when the paid transition
	// could not be stored, asking the gateway to redeliver.
	RetryOnWriteFailure bool          `yaml:"retry_on_write_failure" env-default:"false"`
	Tolerance           time.Duration `yaml:"tolerance" env-default:"5m"`
	Prices              PlanPrices    `yaml:"prices"`
}

// PlanPrices are the gateway price ids of the organizer plans; an empty id
// leaves that plan unavailable.
type PlanPrices struct {
	IndividualMonthly string `yaml:"individual_monthly" env:"STRIPE_PRICE_ID_INDIVIDUAL_MONTHLY" env-default:""`
	IndividualYearly  string `yaml:"individual_yearly" env:"STRIPE_PRICE_ID_INDIVIDUAL_YEARLY" env-default:""`
	ClubMonthly       string `yaml:"club_monthly" env:"STRIPE_PRICE_ID_CLUB_MONTHLY" env-default:""`
	ClubYearly        string `yaml:"club_yearly" env:"STRIPE_PRICE_ID_CLUB_YEARLY" env-default:""`
}

type MongoConfig struct {
	Enabled      bool   `yaml:"enabled" env-default:"false"`
	Host         string `yaml:"host" env-default:"127.0.0.1"`
	Port         string `yaml:"port" env-default:"27017"`
	User         string `yaml:"user" env-default:""`
	Password     string `yaml:"password" env-default:""`
	Database     string `yaml:"database" env-default:"picklepot"`
	Transactions bool   `yaml:"transactions" env-default:"false"`
}

type TelegramConfig struct {
	Enabled         bool   `yaml:"enabled" env-default:"false"`
	ApiKey          string `yaml:"api_key" env:"TELEGRAM_API_KEY" env-default:""`
	MinLevel        int    `yaml:"min_level" env-default:"8"`
	RequireApproval bool   `yaml:"require_approval" env-default:"true"`
}

type PotConfig struct {
	DefaultDuration time.Duration `yaml:"default_duration" env-default:"3h"`
	CodeLength      int           `yaml:"code_length" env-default:"8"`
	BcryptCost      int           `yaml:"bcrypt_cost" env-default:"10"`
}

type Config struct {
	Stripe   StripeConfig   `yaml:"stripe"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Telegram TelegramConfig `yaml:"telegram"`
	Pot      PotConfig      `yaml:"pot"`
	Listen   Listen         `yaml:"listen"`
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	LogPath  string         `yaml:"log_path" env-default:"/var/log/picklepot.log"`
}

var instance *Config
var once sync.Once

func MustLoad(path string) *Config {
	var err error
	once.Do(func() {
		instance = &Config{}
		if err = cleanenv.ReadConfig(path, instance); err != nil {
			desc, _ := cleanenv.GetDescription(instance, nil)
			err = fmt.Errorf("config: %s; %s", err, desc)
			instance = nil
			log.Fatal(err)
		}
	})
	return instance
}

// StripeKeys returns the API key and webhook secret for the active mode.
func (c *Config) StripeKeys() (string, string) {
	if c.Stripe.TestMode {
		return c.Stripe.TestKey, c.Stripe.TestWebhookSecret
	}
	return c.Stripe.APIKey, c.Stripe.WebhookSecret
}
