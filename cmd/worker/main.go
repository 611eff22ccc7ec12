package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"verification-service/internal/audit"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/mailer"
	"verification-service/internal/messaging"
	"verification-service/internal/notification"
	"verification-service/internal/util"
)

// The worker runs the two consumer groups behind the API: the notification
// group turns delivery requests into email, the audit group persists audit
// events. Both share one producer for dead-lettering.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	producer, err := client.NewKafkaProducer(cfg)
	if err != nil {
		util.Fatal("Failed to initialize Kafka producer", util.ErrorField(err))
	}
	defer producer.Close()

	m, err := mailer.NewPostmarkMailer(cfg.Mail)
	if err != nil {
		util.Fatal("Failed to initialize mailer", util.ErrorField(err))
	}

	clickhouseClient, err := client.NewClickHouseClient(cfg)
	if err != nil {
		util.Fatal("Failed to initialize ClickHouse client", util.ErrorField(err))
	}
	defer clickhouseClient.Close()

	var esClient *client.ESClient
	if cfg.Elasticsearch.Enabled {
		esClient, err = client.NewElasticsearchClient(cfg)
		if err != nil {
			util.Fatal("Failed to initialize Elasticsearch client", util.ErrorField(err))
		}
	}

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := clickhouseClient.HealthCheck(healthCtx); err != nil {
		if cfg.IsProduction() {
			healthCancel()
			util.Fatal("ClickHouse health check failed", util.ErrorField(err))
		}
		util.Warn("ClickHouse health check failed", util.ErrorField(err))
	}
	healthCancel()

	notificationConsumer := client.NewKafkaConsumer(cfg, cfg.Kafka.OTPTopic, cfg.Kafka.NotificationGroupID)
	defer notificationConsumer.Close()
	auditConsumer := client.NewKafkaConsumer(cfg, cfg.Kafka.AuditTopic, cfg.Kafka.AuditGroupID)
	defer auditConsumer.Close()

	worker := notification.NewWorker(m, cfg)
	sink := audit.NewSink(clickhouseClient, esClient)

	notificationLoop := messaging.NewConsumerLoop(notificationConsumer, producer, cfg, cfg.Kafka.OTPTopic, worker.Handle)
	auditLoop := messaging.NewConsumerLoop(auditConsumer, producer, cfg, cfg.Kafka.AuditTopic, sink.Handle)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return notificationLoop.Run(gctx) })
	g.Go(func() error { return auditLoop.Run(gctx) })

	util.Info("Worker started",
		util.String("environment", cfg.Environment),
		util.String("otp_topic", cfg.Kafka.OTPTopic),
		util.String("audit_topic", cfg.Kafka.AuditTopic),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		util.Error("Worker stopped with error", util.ErrorField(err))
	}
	util.Info("Worker shutdown completed")
}
