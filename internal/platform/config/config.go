package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShutdownTimeout     = 20 * time.Second
	defaultEnvironment         = "local"
	defaultAppName             = "GIFTCRAFT"
	defaultCurrency            = "INR"
	defaultGatewayTimeout      = 10 * time.Second
	defaultWebhookHeader       = "X-Signature"
	defaultOTPTTL              = 72 * time.Hour
	defaultCancellationWindow  = 24 * time.Hour
	defaultFreeShippingOver    = 100000
	defaultShippingFee         = 5000
	defaultGiftWrapCharge      = 5000
	defaultOutboxInterval      = 5 * time.Second
	defaultOutboxBatchSize     = 25
	defaultOutboxMaxAttempts   = 8
	defaultOutboxBaseBackoff   = 10 * time.Second
	defaultRefundSyncInterval  = 30 * time.Minute
	defaultCacheTTL            = 5 * time.Minute
	defaultWebhookPerMinute    = 600
	defaultWebhookBurst        = 60
	defaultOTPVerifyPerMinute  = 30
	defaultOTPVerifyBurst      = 5
	defaultNotificationTopicID = "order-notifications"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server     ServerConfig
	Firebase   FirebaseConfig
	Firestore  FirestoreConfig
	Storage    StorageConfig
	PubSub     PubSubConfig
	Razorpay   RazorpayConfig
	Orders     OrderConfig
	Outbox     OutboxConfig
	RefundSync RefundSyncConfig
	Cache      CacheConfig
	RateLimits RateLimitConfig
	Security   SecurityConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// StorageConfig lists bucket names used by the application.
type StorageConfig struct {
	ExportsBucket string
}

// PubSubConfig names the topic outgoing notifications are published to.
type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
}

// RazorpayConfig holds gateway credentials.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Timeout       time.Duration
}

// OrderConfig carries the order policy knobs. Monetary values are in paise.
type OrderConfig struct {
	AppName               string
	Currency              string
	OTPTTL                time.Duration
	CancellationWindow    time.Duration
	FreeShippingThreshold int64
	ShippingFee           int64
	GiftWrapCharge        int64
}

// OutboxConfig controls the outbox drain loop.
type OutboxConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BaseBackoff time.Duration
}

// RefundSyncConfig controls the periodic refund reconciliation.
type RefundSyncConfig struct {
	Enabled  bool
	Interval time.Duration
}

// CacheConfig selects the cache backend. An empty RedisAddr keeps the in-memory cache.
type CacheConfig struct {
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// RateLimitConfig controls request throttling on unauthenticated endpoints.
type RateLimitConfig struct {
	WebhookPerMinute   int
	WebhookBurst       int
	OTPVerifyPerMinute int
	OTPVerifyBurst     int
}

// SecurityConfig groups environment and webhook verification settings.
type SecurityConfig struct {
	Environment            string
	WebhookSignatureHeader string
}

// IsProduction reports whether error details should be hidden from clients.
func (s SecurityConfig) IsProduction() bool {
	switch strings.ToLower(s.Environment) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

// MissingSecretsError indicates that one or more required secrets resolved to empty values.
type MissingSecretsError struct {
	names []string
}

// Error implements the error interface. Secret names are redacted.
func (e *MissingSecretsError) Error() string {
	return fmt.Sprintf("missing required secrets [%s]", strings.Join(e.RedactedNames(), ", "))
}

// Names returns the underlying secret identifiers.
func (e *MissingSecretsError) Names() []string {
	if e == nil {
		return nil
	}
	return append([]string(nil), e.names...)
}

// RedactedNames returns hashed secret identifiers safe for logs.
func (e *MissingSecretsError) RedactedNames() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.names))
	for _, name := range e.names {
		sum := sha256.Sum256([]byte(name))
		out = append(out, hex.EncodeToString(sum[:8]))
	}
	sort.Strings(out)
	return out
}

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	secret          SecretResolver
	requiredSecrets []string
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects an explicit key/value map that takes precedence over the environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// WithRequiredSecrets marks secret fields (e.g. "Razorpay.KeySecret") as mandatory.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// Load assembles the configuration from defaults, the .env file, the process
// environment, explicit overrides and secret references, in increasing precedence.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	lookup, err := newLookup(options)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "API_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "API_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Storage: StorageConfig{
			ExportsBucket: stringWithDefault(lookup, "API_STORAGE_EXPORTS_BUCKET", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:         stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			NotificationTopic: stringWithDefault(lookup, "API_PUBSUB_NOTIFICATION_TOPIC", defaultNotificationTopicID),
		},
		Razorpay: RazorpayConfig{
			KeyID:         stringWithDefault(lookup, "API_RAZORPAY_KEY_ID", ""),
			KeySecret:     stringWithDefault(lookup, "API_RAZORPAY_KEY_SECRET", ""),
			WebhookSecret: stringWithDefault(lookup, "API_RAZORPAY_WEBHOOK_SECRET", ""),
			Timeout:       durationWithDefault(lookup, "API_RAZORPAY_TIMEOUT", defaultGatewayTimeout),
		},
		Orders: OrderConfig{
			AppName:               strings.ToUpper(stringWithDefault(lookup, "API_APP_NAME", defaultAppName)),
			Currency:              strings.ToUpper(stringWithDefault(lookup, "API_ORDER_CURRENCY", defaultCurrency)),
			OTPTTL:                durationWithDefault(lookup, "API_ORDER_OTP_TTL", defaultOTPTTL),
			CancellationWindow:    durationWithDefault(lookup, "API_ORDER_CANCELLATION_WINDOW", defaultCancellationWindow),
			FreeShippingThreshold: int64(intWithDefault(lookup, "API_ORDER_FREE_SHIPPING_THRESHOLD", defaultFreeShippingOver)),
			ShippingFee:           int64(intWithDefault(lookup, "API_ORDER_SHIPPING_FEE", defaultShippingFee)),
			GiftWrapCharge:        int64(intWithDefault(lookup, "API_ORDER_GIFT_WRAP_CHARGE", defaultGiftWrapCharge)),
		},
		Outbox: OutboxConfig{
			Interval:    durationWithDefault(lookup, "API_OUTBOX_INTERVAL", defaultOutboxInterval),
			BatchSize:   intWithDefault(lookup, "API_OUTBOX_BATCH_SIZE", defaultOutboxBatchSize),
			MaxAttempts: intWithDefault(lookup, "API_OUTBOX_MAX_ATTEMPTS", defaultOutboxMaxAttempts),
			BaseBackoff: durationWithDefault(lookup, "API_OUTBOX_BASE_BACKOFF", defaultOutboxBaseBackoff),
		},
		RefundSync: RefundSyncConfig{
			Enabled:  boolWithDefault(lookup, "API_REFUND_SYNC_ENABLED", true),
			Interval: durationWithDefault(lookup, "API_REFUND_SYNC_INTERVAL", defaultRefundSyncInterval),
		},
		Cache: CacheConfig{
			TTL:           durationWithDefault(lookup, "API_CACHE_TTL", defaultCacheTTL),
			RedisAddr:     stringWithDefault(lookup, "API_CACHE_REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(lookup, "API_CACHE_REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(lookup, "API_CACHE_REDIS_DB", 0),
		},
		RateLimits: RateLimitConfig{
			WebhookPerMinute:   intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_PER_MIN", defaultWebhookPerMinute),
			WebhookBurst:       intWithDefault(lookup, "API_RATELIMIT_WEBHOOK_BURST", defaultWebhookBurst),
			OTPVerifyPerMinute: intWithDefault(lookup, "API_RATELIMIT_OTP_VERIFY_PER_MIN", defaultOTPVerifyPerMinute),
			OTPVerifyBurst:     intWithDefault(lookup, "API_RATELIMIT_OTP_VERIFY_BURST", defaultOTPVerifyBurst),
		},
		Security: SecurityConfig{
			Environment:            strings.ToLower(stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultEnvironment)),
			WebhookSignatureHeader: stringWithDefault(lookup, "API_SECURITY_WEBHOOK_HEADER", defaultWebhookHeader),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firebase.ProjectID
	}

	resolved := make(map[string]string)
	secretFields := []struct {
		name  string
		field *string
	}{
		{"Razorpay.KeySecret", &cfg.Razorpay.KeySecret},
		{"Razorpay.WebhookSecret", &cfg.Razorpay.WebhookSecret},
		{"Cache.RedisPassword", &cfg.Cache.RedisPassword},
	}
	for _, target := range secretFields {
		value, err := resolveSecret(ctx, *target.field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*target.field = value
		resolved[target.name] = strings.TrimSpace(value)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	if missing := findMissingSecrets(options.requiredSecrets, resolved); missing != nil {
		return Config{}, missing
	}
	return cfg, nil
}

func newLookup(options loaderOptions) (func(string) (string, bool), error) {
	dotEnv, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}
	return func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := trimmed
	if strings.HasPrefix(ref, "sm://") {
		ref = "secret://" + strings.TrimPrefix(ref, "sm://")
	}
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string
	require := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}

	require(cfg.Server.Port != "", "Server.Port")
	require(cfg.Firebase.ProjectID != "", "Firebase.ProjectID")
	require(cfg.Firestore.ProjectID != "", "Firestore.ProjectID")
	require(cfg.Razorpay.KeyID != "", "Razorpay.KeyID")
	require(cfg.Razorpay.Timeout > 0, "Razorpay.Timeout")
	require(strings.TrimSpace(cfg.Orders.AppName) != "", "Orders.AppName")
	require(cfg.Orders.OTPTTL > 0, "Orders.OTPTTL")
	require(cfg.Orders.CancellationWindow > 0, "Orders.CancellationWindow")
	require(cfg.Orders.FreeShippingThreshold >= 0, "Orders.FreeShippingThreshold")
	require(cfg.Orders.ShippingFee >= 0, "Orders.ShippingFee")
	require(cfg.Orders.GiftWrapCharge >= 0, "Orders.GiftWrapCharge")
	require(cfg.Outbox.Interval > 0, "Outbox.Interval")
	require(cfg.Outbox.BatchSize > 0, "Outbox.BatchSize")
	require(cfg.Outbox.MaxAttempts > 0, "Outbox.MaxAttempts")
	require(cfg.Outbox.BaseBackoff > 0, "Outbox.BaseBackoff")
	require(!cfg.RefundSync.Enabled || cfg.RefundSync.Interval > 0, "RefundSync.Interval")
	require(cfg.Cache.TTL > 0, "Cache.TTL")
	require(cfg.RateLimits.WebhookPerMinute > 0, "RateLimits.WebhookPerMinute")
	require(cfg.RateLimits.OTPVerifyPerMinute > 0, "RateLimits.OTPVerifyPerMinute")

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func findMissingSecrets(required []string, resolved map[string]string) *MissingSecretsError {
	var names []string
	seen := make(map[string]struct{})
	for _, name := range required {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if resolved[name] == "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	return &MissingSecretsError{names: names}
}
