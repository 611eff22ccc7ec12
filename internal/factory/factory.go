package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"verification-service/internal/audit"
	"verification-service/internal/bucketing"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/fingerprint"
	"verification-service/internal/hashing"
	"verification-service/internal/messaging"
	"verification-service/internal/repository/redis"
	"verification-service/internal/repository/scylla"
	"verification-service/internal/secrets"
	"verification-service/internal/service"
	"verification-service/internal/util"
)

// Factory manages the lifecycle of the API server's dependencies.
type Factory struct {
	config *config.Config

	// Clients
	redisClient   *client.RedisClient
	scyllaClient  *scylla.ScyllaClient
	kafkaProducer *client.KafkaProducer

	// Managers
	hasher           *hashing.Hasher
	bucketingManager *bucketing.BucketingManager
	fingerprinter    *fingerprint.Fingerprinter

	// Messaging and audit
	producer    *messaging.Producer
	auditLogger *audit.Logger

	// Repositories and services
	challengeRepo *scylla.ChallengeRepository
	cooldownCache *redis.CooldownCache
	deviceStore   *redis.DeviceStore
	issuer        *service.IssuerService
	verifier      *service.VerifierService
	deviceService *service.DeviceService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and initializes every dependency of the
// API server. Failing to reach a critical backend is fatal in production
// and a warning in development.
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := f.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	f.initializeServices()

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	if c, err := client.NewRedisClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = c
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	if c, err := scylla.NewScyllaClient(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = c
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	if p, err := client.NewKafkaProducer(f.config); err != nil {
		initErrors = append(initErrors, fmt.Errorf("kafka: %w", err))
	} else {
		f.kafkaProducer = p
		util.Info("Kafka producer initialized")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

func (f *Factory) initializeManagers() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var decrypter secrets.KMSDecrypter
	if f.config.KMS.Enabled {
		kmsClient, err := secrets.NewKMSClient(ctx, f.config)
		if err != nil {
			return fmt.Errorf("kms: %w", err)
		}
		decrypter = kmsClient
	}

	secret, err := secrets.ResolveOTPSecret(ctx, f.config, decrypter)
	if err != nil {
		return fmt.Errorf("otp secret: %w", err)
	}

	f.hasher, err = hashing.NewHasher(f.config, secret)
	if err != nil {
		return fmt.Errorf("hasher: %w", err)
	}

	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.fingerprinter = fingerprint.New(fingerprint.NoopResolver{})

	f.producer = messaging.NewProducer(f.kafkaProducer, f.config)
	f.auditLogger = audit.NewLogger(f.producer, f.bucketingManager, 0)

	return nil
}

func (f *Factory) initializeServices() {
	f.challengeRepo = scylla.NewChallengeRepository(f.scyllaClient)
	f.cooldownCache = redis.NewCooldownCache(f.redisClient)
	f.deviceStore = redis.NewDeviceStore(f.redisClient)

	f.issuer = service.NewIssuerService(f.challengeRepo, f.cooldownCache, f.hasher, f.producer, f.auditLogger, f.config)
	f.verifier = service.NewVerifierService(f.challengeRepo, f.hasher, f.auditLogger, f.config)
	f.deviceService = service.NewDeviceService(f.deviceStore, f.producer, f.auditLogger, f.config)
}

// HealthCheck probes every backing dependency, keyed by name.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	} else {
		healthErrors["kafka"] = fmt.Errorf("kafka producer not initialized")
	}

	return healthErrors
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.auditLogger != nil {
			f.auditLogger.Close()
			util.Info("Audit logger drained")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) Config() *config.Config { return f.config }

func (f *Factory) Issuer() *service.IssuerService { return f.issuer }

func (f *Factory) Verifier() *service.VerifierService { return f.verifier }

func (f *Factory) DeviceService() *service.DeviceService { return f.deviceService }

func (f *Factory) Fingerprinter() *fingerprint.Fingerprinter { return f.fingerprinter }
