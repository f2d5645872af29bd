package predictflow

import (
	runtimepkg "github.com/drblury/predictflow/internal/runtime"
	batchpkg "github.com/drblury/predictflow/internal/runtime/batch"
	configpkg "github.com/drblury/predictflow/internal/runtime/config"
	consumerpkg "github.com/drblury/predictflow/internal/runtime/consumer"
	envelopepkg "github.com/drblury/predictflow/internal/runtime/envelope"
	errspkg "github.com/drblury/predictflow/internal/runtime/errors"
	idspkg "github.com/drblury/predictflow/internal/runtime/ids"
	jsoncodec "github.com/drblury/predictflow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/predictflow/internal/runtime/logging"
	metricspkg "github.com/drblury/predictflow/internal/runtime/metrics"
	scoringpkg "github.com/drblury/predictflow/internal/runtime/scoring"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies

	LogFields                 = loggingpkg.LogFields
	LogOptions                = loggingpkg.Options
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	// Job lifecycle hooks
	JobContext = consumerpkg.JobContext
	JobHooks   = consumerpkg.JobHooks
	Outcome    = consumerpkg.Outcome
	State      = consumerpkg.State

	// Scoring
	Scorer     = scoringpkg.Scorer
	ScorerFunc = scoringpkg.Func
	Model      = scoringpkg.Model
	Guard      = scoringpkg.Guard

	// Wire types
	TicketFeatures = batchpkg.TicketFeatures
	Prediction     = batchpkg.Prediction
	BatchRequest   = batchpkg.BatchRequest
	BatchResponse  = batchpkg.BatchResponse
	Delivery       = envelopepkg.Delivery

	WorkerMetrics = metricspkg.WorkerMetrics

	// Error classification
	Error     = errspkg.Error
	ErrorKind = errspkg.Kind
)

var (
	NewService       = runtimepkg.NewService
	LoadConfig       = configpkg.FromEnv
	ConfigFromLookup = configpkg.FromLookup
	DefaultConfig    = configpkg.Default
	ValidateConfig   = configpkg.ValidateConfig

	NewLogger            = loggingpkg.New
	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger

	LoadModel = scoringpkg.LoadModel
	NewGuard  = scoringpkg.NewGuard

	DecodeBatch   = batchpkg.Decode
	EncodeBatch   = batchpkg.Encode
	BuildResponse = batchpkg.BuildResponse

	// Job lifecycle hooks
	LoggingHooks = consumerpkg.LoggingHooks
	MetricsHooks = consumerpkg.MetricsHooks

	DefaultMiddlewares    = consumerpkg.DefaultMiddlewares
	TracerMiddleware      = consumerpkg.TracerMiddleware
	LogMessagesMiddleware = consumerpkg.LogMessagesMiddleware

	KindOf = errspkg.KindOf

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode
	Decode    = jsoncodec.Decode

	ErrBrokerURLRequired  = errspkg.ErrBrokerURLRequired
	ErrQueueRequired      = errspkg.ErrQueueRequired
	ErrScorerRequired     = errspkg.ErrScorerRequired
	ErrConfigRequired     = errspkg.ErrConfigRequired
	ErrLoggerRequired     = errspkg.ErrLoggerRequired
	ErrReplyTargetMissing = errspkg.ErrReplyTargetMissing
	ErrLengthMismatch     = errspkg.ErrLengthMismatch
	ErrTicketIDMissing    = errspkg.ErrTicketIDMissing

	ErrConfig     = errspkg.ErrConfig
	ErrConnection = errspkg.ErrConnection
	ErrDecode     = errspkg.ErrDecode
	ErrScoring    = errspkg.ErrScoring
	ErrPublish    = errspkg.ErrPublish

	NewMessageID = idspkg.NewMessageID
)

// Error kinds.
const (
	KindConfig     = errspkg.KindConfig
	KindConnection = errspkg.KindConnection
	KindDecode     = errspkg.KindDecode
	KindScoring    = errspkg.KindScoring
	KindPublish    = errspkg.KindPublish
)

// Reply modes for Config.ReplyMode.
const (
	ReplyModeReplyTo = configpkg.ReplyModeReplyTo
	ReplyModeFixed   = configpkg.ReplyModeFixed
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
