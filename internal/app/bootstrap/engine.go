package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/dental-crm-messaging/internal/alerts"
	"github.com/wolfman30/dental-crm-messaging/internal/channels"
	"github.com/wolfman30/dental-crm-messaging/internal/clinic"
	appconfig "github.com/wolfman30/dental-crm-messaging/internal/config"
	"github.com/wolfman30/dental-crm-messaging/internal/eligibility"
	"github.com/wolfman30/dental-crm-messaging/internal/events"
	"github.com/wolfman30/dental-crm-messaging/internal/inbound"
	"github.com/wolfman30/dental-crm-messaging/internal/intent"
	"github.com/wolfman30/dental-crm-messaging/internal/media"
	"github.com/wolfman30/dental-crm-messaging/internal/notify"
	"github.com/wolfman30/dental-crm-messaging/internal/observability/metrics"
	"github.com/wolfman30/dental-crm-messaging/internal/reminders"
	"github.com/wolfman30/dental-crm-messaging/internal/reschedule"
	"github.com/wolfman30/dental-crm-messaging/internal/whatsapp"
	"github.com/wolfman30/dental-crm-messaging/pkg/logging"
)

// Engine holds every component of the messaging engine, wired together.
type Engine struct {
	Config  *appconfig.Config
	Clinic  *clinic.Config
	Stores  *Stores
	Metrics *metrics.MessagingMetrics

	ClinicStore clinic.ConfigStore
	Alerts      *alerts.Bus
	Registry    *channels.Registry
	Dispatcher  *reminders.Dispatcher
	Planner     *reminders.Planner
	Worker      *reminders.Worker
	Resetter    *channels.DailyResetter
	Consumer    *channels.QueueConsumer
	Workflow    *reschedule.Workflow
	Inbound     *inbound.Router
	Media       *media.Resolver
	Notifier    *notify.StaffNotifier

	redis  *redis.Client
	sink   *alerts.AMQPSink
	logger *logging.Logger
}

// BuildEngine assembles the engine on top of already-open stores. Optional
// integrations (Redis, AMQP, S3, SQS, SES) are skipped when unconfigured.
func BuildEngine(ctx context.Context, cfg *appconfig.Config, stores *Stores, reg prometheus.Registerer, logger *logging.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config required")
	}
	if stores == nil {
		stores = MemoryStores()
	}
	if logger == nil {
		logger = logging.Default()
	}
	e := &Engine{Config: cfg, Stores: stores, logger: logger}
	if reg != nil {
		e.Metrics = metrics.NewMessagingMetrics(reg)
	}

	e.redis = connectRedis(ctx, cfg, logger)
	seed := clinicSeed(cfg)
	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: clinic settings: %w", err)
	}
	if e.redis != nil {
		e.ClinicStore = clinic.NewStore(e.redis).WithDefaults(seed)
	} else {
		e.ClinicStore = clinic.NewStaticStore(seed)
	}
	clinicCfg, err := e.ClinicStore.Get(ctx, cfg.ClinicID)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: load clinic config: %w", err)
	}
	e.Clinic = clinicCfg

	var awsCfg *aws.Config
	if awsEnabled(cfg) {
		loaded, err := loadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		awsCfg = &loaded
	}
	if cfg.DedupeTable != "" && awsCfg != nil {
		stores.Tracker = events.NewDynamoTracker(dynamodb.NewFromConfig(*awsCfg), cfg.DedupeTable, dedupeTTL)
	}

	busOpts := []alerts.Option{alerts.WithMetrics(e.Metrics)}
	if cfg.AMQPURL != "" {
		sink, err := alerts.DialAMQPSink(cfg.AMQPURL, cfg.AMQPAlertsExchange)
		if err != nil {
			logger.Warn("alert broker unavailable, continuing without it", "error", err)
		} else {
			e.sink = sink
			busOpts = append(busOpts, alerts.WithSink(sink))
		}
	}
	e.Alerts = alerts.NewBus(logger.Component("alerts"), busOpts...)

	e.Registry = channels.NewRegistry(stores.Channels, e.Alerts, e.Metrics, logger.Component("channels"))
	e.Resetter = channels.NewDailyResetter(e.Registry, logger.Component("channel-reset"))
	if cfg.ChannelEventsQueueURL != "" && awsCfg != nil {
		e.Consumer = channels.NewQueueConsumer(sqs.NewFromConfig(*awsCfg), cfg.ChannelEventsQueueURL, e.Registry, logger.Component("channel-events"))
	}

	var presigner media.Presigner
	var uploader media.Uploader
	if cfg.MediaBucket != "" && awsCfg != nil {
		s3Client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		presigner = s3.NewPresignClient(s3Client)
		uploader = s3Client
	}
	e.Media = media.NewResolver(presigner, uploader, cfg.MediaBucket, cfg.MediaURLTTL, logger.Component("media"))

	sender, err := buildSender(cfg, logger)
	if err != nil {
		return nil, err
	}

	loc := clinicCfg.Location()
	gate := eligibility.NewGate(loc, cfg.FollowupDelay, cfg.FollowupWindow)
	e.Dispatcher = reminders.NewDispatcher(stores.Reminders, e.Registry, sender, logger.Component("dispatcher")).
		WithNormalizer(clinicCfg.Normalizer()).
		WithFollowupGate(stores.Appointments, gate).
		WithMedia(e.Media).
		WithAlerts(e.Alerts).
		WithMetrics(e.Metrics).
		WithRenderer(reminders.Renderer{ClinicName: clinicCfg.Name, Location: loc}).
		WithBackoff(reminders.BackoffPolicy{
			BaseDelay:   cfg.RetryBaseDelay,
			Multiplier:  cfg.RetryMultiplier,
			MaxDelay:    cfg.RetryMaxDelay,
			MaxAttempts: cfg.RetryMaxAttempts,
		}).
		WithBatchSize(cfg.DispatchBatchSize).
		WithConcurrency(cfg.DispatchConcurrency).
		WithSendTimeout(cfg.DispatchSendTimeout).
		WithClaimLease(cfg.DispatchClaimLease).
		WithNoChannelDelay(cfg.NoChannelDelay)
	e.Planner = reminders.NewPlanner(stores.Appointments, e.Dispatcher, reminders.DefaultRules(cfg.ReminderLead, cfg.FollowupDelay), logger.Component("planner")).
		WithHorizon(cfg.PlannerHorizon).
		WithRetention(cfg.JobRetention)
	e.Worker = reminders.NewWorker(e.Dispatcher, e.Planner, logger.Component("reminder-worker")).
		WithInterval(cfg.DispatchInterval).
		WithPlannerInterval(cfg.PlannerInterval)

	e.Workflow = reschedule.NewWorkflow(stores.Reschedule, e.Alerts, logger.Component("reschedule"))
	e.Inbound = inbound.NewRouter(inbound.Deps{
		Normalizer: clinicCfg.Normalizer(),
		Classifier: intent.NewDefaultClassifier(),
		Appts:      stores.Appointments,
		Store:      stores.Inbound,
		Reschedule: e.Workflow,
		Reminders:  e.Dispatcher,
		Tracker:    stores.Tracker,
		Alerts:     e.Alerts,
		Metrics:    e.Metrics,
		Logger:     logger.Component("inbound"),
	})

	var ses notify.SESClient
	if cfg.SESFromEmail != "" && awsCfg != nil {
		ses = sesv2.NewFromConfig(*awsCfg)
	}
	email := notify.NewEmailSender(notify.SenderConfig{
		Provider:       cfg.EmailProvider,
		SendGridAPIKey: cfg.SendGridAPIKey,
		SendGridFrom:   notify.Address{Email: cfg.SendGridFromEmail, Name: cfg.SendGridFromName},
		SESFrom:        notify.Address{Email: cfg.SESFromEmail, Name: cfg.SESFromName},
	}, ses, logger)
	e.Notifier = notify.NewStaffNotifier(email, e.ClinicStore, cfg.ClinicID, logger.Component("staff-notify"))

	logger.Info("engine ready",
		"clinic", clinicCfg.ClinicID,
		"country", clinicCfg.Country,
		"persistent", stores.Persistent,
		"redis", e.redis != nil,
		"alert_broker", e.sink != nil,
		"channel_events_queue", e.Consumer != nil,
		"media_bucket", cfg.MediaBucket,
	)
	return e, nil
}

func buildSender(cfg *appconfig.Config, logger *logging.Logger) (reminderSender, error) {
	if cfg.WhatsAppBaseURL == "" {
		logger.Warn("WHATSAPP_BASE_URL not set, reminders are logged instead of sent")
		return whatsapp.NewStubClient(logger), nil
	}
	client, err := whatsapp.NewClient(cfg.WhatsAppBaseURL, cfg.WhatsAppAPIToken, cfg.WhatsAppTimeout)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: whatsapp client: %w", err)
	}
	return client, nil
}

type reminderSender interface {
	SendMessage(ctx context.Context, channelID, phone, content, mediaURL string) (whatsapp.SendResult, error)
}

// clinicSeed is the clinic config derived from the environment, served until
// an admin saves one.
func clinicSeed(cfg *appconfig.Config) *clinic.Config {
	seed := clinic.DefaultConfig(cfg.ClinicID)
	if cfg.ClinicName != "" {
		seed.Name = cfg.ClinicName
	}
	if cfg.ClinicTimezone != "" {
		seed.Timezone = cfg.ClinicTimezone
	}
	if cfg.DefaultCountry != "" {
		seed.Country = cfg.DefaultCountry
	}
	if cfg.DefaultCountryCode != "" {
		seed.CountryCode = cfg.DefaultCountryCode
	}
	seed.AreaCode = cfg.DefaultAreaCode
	if len(cfg.StaffEmails) > 0 {
		seed.StaffEmails = append([]string(nil), cfg.StaffEmails...)
	}
	return seed
}

// RunOptions selects which background loops a process runs.
type RunOptions struct {
	Dispatch      bool
	ChannelReset  bool
	ChannelEvents bool
	StaffNotify   bool
}

// AllLoops runs everything in one process.
var AllLoops = RunOptions{Dispatch: true, ChannelReset: true, ChannelEvents: true, StaffNotify: true}

// Start launches the selected loops. The returned wait function blocks until
// they have all exited after ctx is cancelled.
func (e *Engine) Start(ctx context.Context, opts RunOptions) (wait func()) {
	var wg sync.WaitGroup
	spawn := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.logger.Info("loop started", "loop", name)
			fn(ctx)
			e.logger.Info("loop stopped", "loop", name)
		}()
	}
	if opts.Dispatch {
		spawn("reminders", e.Worker.Run)
	}
	if opts.ChannelReset {
		spawn("channel-reset", e.Resetter.Run)
	}
	if opts.ChannelEvents && e.Consumer != nil {
		spawn("channel-events", e.Consumer.Run)
	}
	if opts.StaffNotify {
		sub := e.Alerts.Subscribe(64)
		spawn("staff-notify", func(ctx context.Context) { e.Notifier.Run(ctx, sub) })
	}
	return wg.Wait
}

// Close releases engine-owned connections. Stores are closed by their owner.
func (e *Engine) Close() {
	if e.Alerts != nil {
		e.Alerts.Close()
	}
	if e.sink != nil {
		if err := e.sink.Close(); err != nil {
			e.logger.Warn("failed to close alert broker", "error", err)
		}
	}
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			e.logger.Warn("failed to close redis", "error", err)
		}
	}
}
