package vecdex

import (
	"github.com/vecdex/vecdex/accel"
	"github.com/vecdex/vecdex/distance"
	"github.com/vecdex/vecdex/index"
	"github.com/vecdex/vecdex/index/hnsw"
	"github.com/vecdex/vecdex/index/ivf"
	"github.com/vecdex/vecdex/persistence"
)

type options struct {
	algorithm        index.Kind
	algorithmName    string
	metric           distance.Metric
	hnswOptions      []func(*hnsw.Options)
	ivfOptions       []func(*ivf.Options)
	accelerate       bool
	device           accel.Device
	compression      persistence.Compression
	logger           *Logger
	metricsCollector MetricsCollector
}

// Option configures VectorIndex constructor behavior.
type Option func(*options)

// WithAlgorithm selects the index backend. The default is KindFlat.
func WithAlgorithm(kind index.Kind) Option {
	return func(o *options) {
		o.algorithm = kind
		o.algorithmName = ""
	}
}

// WithAlgorithmName selects the index backend by name ("flat", "hnsw",
// "ivf"). An unrecognized name does not fail construction: the index falls
// back to the flat backend and logs a warning, so callers wired to external
// configuration keep working.
func WithAlgorithmName(name string) Option {
	return func(o *options) {
		o.algorithmName = name
	}
}

// WithMetric configures the distance metric used by the backend.
// The default is squared L2.
func WithMetric(metric distance.Metric) Option {
	return func(o *options) {
		o.metric = metric
	}
}

// WithHNSWOptions customizes the HNSW backend. Ignored by other backends.
//
// Example:
//
//	vecdex.New(128,
//	    vecdex.WithAlgorithm(index.KindHNSW),
//	    vecdex.WithHNSWOptions(func(o *hnsw.Options) {
//	        o.M = 48
//	        o.EFSearch = 200
//	    }),
//	)
func WithHNSWOptions(optFns ...func(*hnsw.Options)) Option {
	return func(o *options) {
		o.hnswOptions = append(o.hnswOptions, optFns...)
	}
}

// WithIVFOptions customizes the inverted-file backend. Ignored by other
// backends.
func WithIVFOptions(optFns ...func(*ivf.Options)) Option {
	return func(o *options) {
		o.ivfOptions = append(o.ivfOptions, optFns...)
	}
}

// WithAccelerator requests an accelerated mirror of the backend. When the
// accelerator is unavailable or the backend cannot be mirrored, the index
// logs a warning and continues on the CPU backend.
func WithAccelerator() Option {
	return func(o *options) {
		o.accelerate = true
	}
}

// WithDevice sets the accelerator device probed by WithAccelerator.
// If nil, the default device is used.
func WithDevice(device accel.Device) Option {
	return func(o *options) {
		if device == nil {
			device = accel.DefaultDevice()
		}
		o.device = device
	}
}

// WithCompression configures the codec used when saving the index.
// The default is no compression.
func WithCompression(compression persistence.Compression) Option {
	return func(o *options) {
		o.compression = compression
	}
}

// WithLogger configures structured logging for index operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}
