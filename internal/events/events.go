// Package events announces index changes to other services.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/git-pkgs/feed/internal/metrics"
	"github.com/git-pkgs/feed/internal/nuget"
)

const (
	KindIndexed = "indexed"
	KindRemoved = "removed"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "feed.packages"

// Event describes one change to the index.
type Event struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Version   string    `json:"version"`
	PURL      string    `json:"purl"`
	Hash      string    `json:"hash,omitempty"`
	Size      int64     `json:"size,omitempty"`
	Source    string    `json:"source,omitempty"`
	Replaced  bool      `json:"replaced,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent builds an event for pkg.
func NewEvent(kind string, pkg nuget.Package) Event {
	return Event{
		Kind:      kind,
		ID:        pkg.ID,
		Version:   pkg.Version,
		PURL:      pkg.PURL(),
		Hash:      pkg.PackageHash,
		Size:      pkg.PackageSize,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events. Publishing never blocks ingestion on delivery
// failure; implementations log and count errors instead.
type Publisher interface {
	Publish(e Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

// NATS publishes events as JSON to {subject}.{kind}.
type NATS struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

// Connect dials the NATS server at url.
func Connect(url, subject string, logger *slog.Logger) (*NATS, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("git-pkgs-feed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return NewNATS(nc, subject, logger), nil
}

// NewNATS wraps an existing connection.
func NewNATS(nc *nats.Conn, subject string, logger *slog.Logger) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATS{nc: nc, subject: subject, logger: logger}
}

// Subject returns the full subject for an event kind.
func (n *NATS) Subject(kind string) string {
	return n.subject + "." + kind
}

func (n *NATS) Publish(e Event) {
	data, err := json.Marshal(e)
	if err == nil {
		err = n.nc.Publish(n.Subject(e.Kind), data)
	}
	metrics.RecordEvent(e.Kind, err)
	if err != nil {
		n.logger.Warn("failed to publish event",
			"kind", e.Kind, "id", e.ID, "version", e.Version, "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() error {
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return err
	}
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
