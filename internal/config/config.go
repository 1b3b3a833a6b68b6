package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	// Resolutions used for edge and cloud inference.
	EdgeWidth   int
	EdgeHeight  int
	CloudWidth  int
	CloudHeight int

	MaxFPS        int     // Upper bound on frame rate and on the frame backlog length
	DetectionRate int     // Request edge detection every N-th frame
	Sync          bool    // Block for edge responses instead of fire-and-poll
	MinScore      int     // Detections below this score are tracked by decay only
	CloudStride   int     // Replay every N-th buffered frame during catch-up tracking
	TrackerDecay  float64 // Score multiplier for objects that could not be confirmed

	EdgeAddress     string        // tcp://host:port of the edge server
	IPC             bool          // Use the unix socket at IPCPath instead of EdgeAddress
	IPCPath         string        // Unix socket of the edge server
	EdgePollTimeout time.Duration // Opportunistic per-frame edge poll
	WarmupTimeout   time.Duration // Blocking poll for the first frame of a stream

	CloudURL     string
	CloudTimeout time.Duration

	// Edge server settings.
	ListenAddress    string
	EdgeBackend      string // "dnn" or "torchserve"
	EdgeModelURL     string
	EdgeTimeout      time.Duration
	ModelPath        string
	ConfigPath       string
	CloudProbability float64
	ScoreDecay       float64

	DatabasePath          string
	RecorderBufferLimit   int
	RecorderFlushInterval time.Duration

	ViewAddress  string // Serve the live viewer here when non-empty
	ViewToken    string // Bearer token required by the HTTP endpoints when set
	LogDirectory string
}

// Load reads configuration from .env, the environment and defaults.
func Load() *Config {
	return FromViper(NewViper(nil))
}

// NewViper prepares a viper instance with defaults and environment binding.
// Flags, when given, are bound by their names with dashes turned into
// underscores (--detection-rate -> detection_rate).
func NewViper(flags *pflag.FlagSet) *viper.Viper {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		flags.VisitAll(func(f *pflag.Flag) {
			_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
	}
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("edge_width", 512)
	v.SetDefault("edge_height", 512)
	v.SetDefault("cloud_width", 1333)
	v.SetDefault("cloud_height", 800)

	v.SetDefault("max_fps", 300)
	v.SetDefault("detection_rate", 5)
	v.SetDefault("sync", false)
	v.SetDefault("min_score", 70)
	v.SetDefault("cloud_stride", 3)
	v.SetDefault("tracker_decay", 0.9)

	v.SetDefault("edge_addr", "tcp://127.0.0.1:8000")
	v.SetDefault("ipc", false)
	v.SetDefault("ipc_path", "/tmp/edge-server/0")
	v.SetDefault("edge_poll_timeout", 3*time.Millisecond)
	v.SetDefault("warmup_timeout", 60*time.Second)

	v.SetDefault("cloud_url", "http://127.0.0.1:9093/predictions/faster_rcnn_visdrone")
	v.SetDefault("cloud_timeout", 30*time.Second)

	v.SetDefault("listen", "tcp://0.0.0.0:8000")
	v.SetDefault("edge_backend", "torchserve")
	v.SetDefault("edge_model_url", "http://127.0.0.1:9090/predictions/mobilenetv2_ssd_visdrone")
	v.SetDefault("edge_timeout", 10*time.Second)
	v.SetDefault("model_path", filepath.Join(".", "models", "frozen_inference_graph.pb"))
	v.SetDefault("config_path", filepath.Join(".", "models", "ssd_mobilenet_v1_coco.pbtxt"))
	v.SetDefault("cloud_probability", 0.2)
	v.SetDefault("score_decay", 0.99)

	v.SetDefault("db", filepath.Join(".", "data", "detections.db"))
	v.SetDefault("buffer_limit", 500)
	v.SetDefault("flush_interval", 5*time.Second)

	v.SetDefault("view_addr", "")
	v.SetDefault("view_token", "")
	v.SetDefault("log_dir", filepath.Join(".", "logs"))
}

// FromViper materializes a Config.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		EdgeWidth:   v.GetInt("edge_width"),
		EdgeHeight:  v.GetInt("edge_height"),
		CloudWidth:  v.GetInt("cloud_width"),
		CloudHeight: v.GetInt("cloud_height"),

		MaxFPS:        positive(v.GetInt("max_fps"), 300),
		DetectionRate: positive(v.GetInt("detection_rate"), 5),
		Sync:          v.GetBool("sync"),
		MinScore:      v.GetInt("min_score"),
		CloudStride:   positive(v.GetInt("cloud_stride"), 1),
		TrackerDecay:  v.GetFloat64("tracker_decay"),

		EdgeAddress:     v.GetString("edge_addr"),
		IPC:             v.GetBool("ipc"),
		IPCPath:         v.GetString("ipc_path"),
		EdgePollTimeout: v.GetDuration("edge_poll_timeout"),
		WarmupTimeout:   v.GetDuration("warmup_timeout"),

		CloudURL:     v.GetString("cloud_url"),
		CloudTimeout: v.GetDuration("cloud_timeout"),

		ListenAddress:    v.GetString("listen"),
		EdgeBackend:      v.GetString("edge_backend"),
		EdgeModelURL:     v.GetString("edge_model_url"),
		EdgeTimeout:      v.GetDuration("edge_timeout"),
		ModelPath:        v.GetString("model_path"),
		ConfigPath:       v.GetString("config_path"),
		CloudProbability: v.GetFloat64("cloud_probability"),
		ScoreDecay:       v.GetFloat64("score_decay"),

		DatabasePath:          v.GetString("db"),
		RecorderBufferLimit:   positive(v.GetInt("buffer_limit"), 500),
		RecorderFlushInterval: v.GetDuration("flush_interval"),

		ViewAddress:  v.GetString("view_addr"),
		ViewToken:    v.GetString("view_token"),
		LogDirectory: v.GetString("log_dir"),
	}
}

// EdgeEndpoint returns the address the edge device dials.
func (c *Config) EdgeEndpoint() string {
	if c.IPC {
		return "ipc://" + c.IPCPath
	}
	return c.EdgeAddress
}

func positive(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
