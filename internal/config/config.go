package config

import "time"

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	Database    Database

	Shop Shop `envPrefix:"SHOPIFY_"`
	Sync Sync `envPrefix:"SYNC_"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

type Database struct {
	Driver string `env:"DATABASE_DRIVER" envDefault:"sqlite"` // sqlite, mysql
	URL    string `env:"DATABASE_URL" envDefault:"cycles.db"`
}

// Shop identifies the merchant and carries the offline access credential
// used to call the Admin API.
type Shop struct {
	Name              string        `env:"SHOP"` // "my-store" for my-store.myshopify.com
	AccessToken       string        `env:"ACCESS_TOKEN"`
	APIVersion        string        `env:"API_VERSION" envDefault:"2025-01"`
	APIKey            string        `env:"API_KEY"`
	APISecret         string        `env:"API_SECRET"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	BaseURL           string        `env:"BASE_URL"` // overrides https://{shop}.myshopify.com
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"2"`
	RequestBurst      int           `env:"REQUEST_BURST" envDefault:"4"`
}

// Domain returns the shop's myshopify.com host.
func (s Shop) Domain() string {
	return s.Name + ".myshopify.com"
}

type Sync struct {
	OrderFilter        string        `env:"ORDER_FILTER" envDefault:"financial_status:paid"`
	PageSize           int           `env:"PAGE_SIZE" envDefault:"20"`
	PageLineItems      int           `env:"PAGE_LINE_ITEMS" envDefault:"10"`
	HistoryPageSize    int           `env:"HISTORY_PAGE_SIZE" envDefault:"250"`
	HistoryLineItems   int           `env:"HISTORY_LINE_ITEMS" envDefault:"50"`
	LockTTL            time.Duration `env:"LOCK_TTL" envDefault:"30m"`
	WebhookStrategy    string        `env:"WEBHOOK_STRATEGY" envDefault:"incremental"` // incremental, recount
	MetafieldNamespace string        `env:"METAFIELD_NAMESPACE" envDefault:"seryni"`
	MetafieldKey       string        `env:"METAFIELD_KEY" envDefault:"purchased_products"`
}
