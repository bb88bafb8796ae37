package diauth

import (
	"context"
	"crypto"
	"errors"

	"github.com/OllieJC/di-authentication-api/authcode"
	"github.com/OllieJC/di-authentication-api/callback"
	"github.com/OllieJC/di-authentication-api/clientauth"
	"github.com/OllieJC/di-authentication-api/internal/audit"
	"github.com/OllieJC/di-authentication-api/session"
	"github.com/OllieJC/di-authentication-api/store"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an Engine. Configure it during initialization and call
// Build once; the builder is not reusable.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	clients ClientRegistry
	users   UserRegistry
	signer  Signer

	logger    hclog.Logger
	auditSink AuditSink

	built bool
}

// New starts a builder with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithClientRegistry(registry ClientRegistry) *Builder {
	b.clients = registry
	return b
}

func (b *Builder) WithUserRegistry(registry UserRegistry) *Builder {
	b.users = registry
	return b
}

func (b *Builder) WithSigner(signer Signer) *Builder {
	b.signer = signer
	return b
}

func (b *Builder) WithLogger(logger hclog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = sink != nil
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.clients == nil {
		return nil, errors.New("client registry required")
	}
	if b.users == nil {
		return nil, errors.New("user registry required")
	}
	if b.signer == nil {
		return nil, errors.New("signer required")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	policy, err := session.NewPolicy()
	if err != nil {
		return nil, err
	}

	verifier, err := clientauth.NewVerifier(cfg.TokenEndpoint, keySelector(b.clients), cfg.AssertionLeeway)
	if err != nil {
		return nil, err
	}

	ephemeral := store.NewRedisStore(b.redis, cfg.StoreTimeout)

	engine := &Engine{
		config:    cfg,
		log:       logger,
		clients:   b.clients,
		users:     b.users,
		signer:    b.signer,
		ephemeral: ephemeral,
		sessions:  session.NewStore(ephemeral, cfg.SessionTTL),
		policy:    policy,
		codes:     authcode.NewService(ephemeral, cfg.AuthCodeTTL),
		states:    callback.NewStateValidator(ephemeral, cfg.CallbackStateTTL),
		verifier:  verifier,
		refresh:   newRefreshStore(b.redis, cfg.RefreshTokenTTL, cfg.StoreTimeout),
		metrics:   NewMetrics(cfg.Metrics),
	}
	if cfg.Audit.Enabled {
		engine.audit = audit.NewDispatcher(b.auditSink, cfg.Audit.BufferSize)
	}

	b.built = true

	return engine, nil
}

// keySelector adapts the client registry into the verifier's key lookup.
// Unknown clients and unparseable key material yield no keys, which the
// verifier reports uniformly as invalid_client.
func keySelector(registry ClientRegistry) clientauth.KeySelector {
	return func(ctx context.Context, clientID string) ([]crypto.PublicKey, error) {
		registration, err := registry.GetClient(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if registration == nil {
			return nil, nil
		}

		keys := make([]crypto.PublicKey, 0, len(registration.PublicKeys))
		for _, material := range registration.PublicKeys {
			key, err := clientauth.ParsePublicKey(material)
			if err != nil {
				continue
			}
			keys = append(keys, key)
		}
		return keys, nil
	}
}
