package config

type PaymentConfig struct {
	DefaultProvider  string        `yaml:"default_provider"`
	Stripe           *StripeConfig `yaml:"stripe"`
	Currency         string        `yaml:"currency"`
	TicketPriceCents int64         `yaml:"ticket_price_cents"`
}

type StripeConfig struct {
	PublishableKey string `yaml:"publishable_key"`
	SecretKey      string `yaml:"secret_key"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

func loadPaymentConfig() *PaymentConfig {
	return &PaymentConfig{
		DefaultProvider: getEnv("PAYMENT_DEFAULT_PROVIDER", "stripe"),
		Stripe: &StripeConfig{
			PublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			SecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:  getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Currency:         getEnv("PAYMENT_CURRENCY", "USD"),
		TicketPriceCents: int64(getEnvAsInt("TICKET_PRICE_CENTS", 500)),
	}
}
