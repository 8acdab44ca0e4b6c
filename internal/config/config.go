package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/hubtap/hubtap/internal/eventhub"
	"github.com/hubtap/hubtap/internal/kafka"
	"github.com/hubtap/hubtap/internal/view"
)

// EnvConnectionString overrides the profile's connectionString when set.
const EnvConnectionString = "HUBTAP_CONNECTION_STRING"

// Duration decodes yaml durations written as "30s" or "1m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Profile is the hubtap.yaml configuration file.
type Profile struct {
	// ConnectionString is the Event Hubs namespace connection string with an
	// EntityPath. Env HUBTAP_CONNECTION_STRING wins over the file value.
	ConnectionString string `yaml:"connectionString"`

	// EventHub names the hub (topic) to use; defaults to the EntityPath of
	// the connection string.
	EventHub string `yaml:"eventHub"`

	// Group is the consumer group for committed reads. Empty means direct
	// partition consumption with local checkpoints.
	Group string `yaml:"consumerGroup"`

	// CheckpointLocation is the path of the local checkpoint file used in
	// direct mode. Empty disables checkpointing.
	CheckpointLocation string `yaml:"checkpointLocation"`

	// StartingPosition is where a fresh read begins. Defaults to earliest.
	StartingPosition *eventhub.StartingPosition `yaml:"startingPosition"`

	// View is the name the live relation is registered under.
	View string `yaml:"view"`

	// ServeAddr is the HTTP listen address for serve mode.
	ServeAddr string `yaml:"serveAddr"`

	// DeadLetter enables routing of failed records to <hub>.dlq.
	DeadLetter bool `yaml:"deadLetter"`

	// Rate caps produced records per second. Zero means unlimited.
	Rate float64 `yaml:"rate"`

	// LagInterval is how often the consumer reports partition lag.
	LagInterval Duration `yaml:"lagInterval"`

	// Kafka overrides the cluster derived from the connection string, for
	// plain Kafka clusters or advanced auth setups.
	Kafka *kafka.ClusterConfig `yaml:"kafka"`
}

// Default returns a profile with the walkthrough defaults filled in.
func Default() *Profile {
	pos := eventhub.EarliestPosition()
	return &Profile{
		StartingPosition: &pos,
		View:             view.DefaultName,
		ServeAddr:        ":8080",
		LagInterval:      Duration(30 * time.Second),
	}
}

// Load reads the profile file, applies env overrides, and validates. An empty
// path returns the defaults with env applied, so hubtap runs without a file.
func Load(path string) (*Profile, error) {
	p := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, p); err != nil {
			return nil, fmt.Errorf("parse profile %s: %w", path, err)
		}
	}

	p.applyEnv()
	p.applyDefaults()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) applyEnv() {
	if cs := os.Getenv(EnvConnectionString); cs != "" {
		p.ConnectionString = cs
	}
}

func (p *Profile) applyDefaults() {
	if p.StartingPosition == nil {
		pos := eventhub.EarliestPosition()
		p.StartingPosition = &pos
	}
	if p.View == "" {
		p.View = view.DefaultName
	}
	if p.ServeAddr == "" {
		p.ServeAddr = ":8080"
	}
	// LagInterval keeps whatever the file said: an explicit "0s" disables lag
	// reporting, and an absent key keeps the Default() value.
}

// Validate checks the profile can yield a usable cluster and topic.
func (p *Profile) Validate() error {
	var errs []error

	if p.ConnectionString == "" && p.Kafka == nil {
		errs = append(errs, fmt.Errorf("connectionString is required (or set %s, or configure kafka directly)", EnvConnectionString))
	}
	if p.Kafka != nil {
		if err := p.Kafka.Validate(); err != nil {
			errs = append(errs, err)
		}
		if p.ConnectionString == "" && p.EventHub == "" {
			errs = append(errs, errors.New("eventHub is required when kafka is configured directly"))
		}
	}
	if p.ConnectionString != "" {
		if _, err := eventhub.ParseConnectionString(p.ConnectionString); err != nil {
			errs = append(errs, err)
		}
	}
	if p.StartingPosition != nil {
		if _, err := p.StartingPosition.Resolve(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.Rate < 0 {
		errs = append(errs, fmt.Errorf("rate must be >= 0, got %v", p.Rate))
	}
	if p.LagInterval < 0 {
		errs = append(errs, fmt.Errorf("lagInterval must be >= 0, got %s", time.Duration(p.LagInterval)))
	}

	return errors.Join(errs...)
}

// Cluster resolves the Kafka cluster and topic the profile points at. An
// explicit kafka section wins over the connection string.
func (p *Profile) Cluster() (*kafka.ClusterConfig, string, error) {
	topic := p.EventHub

	if p.Kafka != nil {
		if topic == "" && p.ConnectionString != "" {
			cs, err := eventhub.ParseConnectionString(p.ConnectionString)
			if err != nil {
				return nil, "", err
			}
			topic = cs.EntityPath
		}
		if topic == "" {
			return nil, "", errors.New("no event hub configured")
		}
		return p.Kafka, topic, nil
	}

	cs, err := eventhub.ParseConnectionString(p.ConnectionString)
	if err != nil {
		return nil, "", err
	}
	if topic == "" {
		topic = cs.EntityPath
	}
	if topic == "" {
		return nil, "", errors.New("connection string has no EntityPath and no eventHub is set")
	}
	return kafka.FromConnectionString(cs), topic, nil
}

// String renders the profile with the shared access key redacted.
func (p *Profile) String() string {
	cs := p.ConnectionString
	if cs != "" {
		if parsed, err := eventhub.ParseConnectionString(cs); err == nil {
			cs = parsed.String()
		} else {
			cs = "***"
		}
	}
	return fmt.Sprintf("Profile{eventHub:%s group:%s view:%s connectionString:%s}", p.EventHub, p.Group, p.View, cs)
}

// Loader loads a profile file and watches it for changes.
type Loader struct {
	mu       sync.RWMutex
	path     string
	profile  *Profile
	logger   *slog.Logger
	onChange func(*Profile)
}

// NewLoader creates a loader for the given profile path.
func NewLoader(path string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{path: path, logger: logger}
}

// OnChange registers a callback that fires after a successful reload.
func (l *Loader) OnChange(fn func(*Profile)) {
	l.onChange = fn
}

// Load reads and validates the profile, keeping it as the current one.
func (l *Loader) Load() (*Profile, error) {
	p, err := Load(l.path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.profile = p
	l.mu.Unlock()

	return p, nil
}

// Current returns the most recently loaded profile.
func (l *Loader) Current() *Profile {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profile
}

// Watch blocks watching the profile file until done closes. Editors often
// replace files on save, so the parent directory is watched and events are
// filtered to the profile's name.
func (l *Loader) Watch(done <-chan struct{}) error {
	if l.path == "" {
		<-done
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()

	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch dir %s: %w", dir, err)
	}

	l.logger.Info("watching profile", "path", l.path)

	for {
		select {
		case <-done:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(l.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.logger.Info("profile change detected", "op", event.Op)
				p, err := l.Load()
				if err != nil {
					l.logger.Error("failed to reload profile", "error", err)
					continue
				}
				if l.onChange != nil {
					l.onChange(p)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Error("watcher error", "error", err)
		}
	}
}
