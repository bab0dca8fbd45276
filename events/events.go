// Package events mirrors runner progress onto a NATS subject so that other
// tools can follow a fleet of workers without polling the server.
package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultSubject = "pzrunner.progress"

type Kind string

const (
	KindConfig   Kind = "config"
	KindNetwork  Kind = "network"
	KindProgress Kind = "progress"
	KindFinished Kind = "finished"
	KindUpload   Kind = "upload"
)

// Event is the JSON document published for each notable step.
type Event struct {
	Kind      Kind      `json:"kind"`
	WorkerID  string    `json:"worker_id"`
	Time      time.Time `json:"time"`
	Network   string    `json:"network,omitempty"`
	Positions int64     `json:"positions,omitempty"`
	Games     int64     `json:"games,omitempty"`
	PPS       int64     `json:"pps,omitempty"`
	Uploaded  int       `json:"uploaded,omitempty"`
	Failed    int       `json:"failed,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Publisher delivers events. Publishing is best effort and never blocks the
// work loop on a slow subscriber.
type Publisher interface {
	Publish(e Event)
	Close()
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close()        {}

// NATSPublisher publishes events as JSON on a single subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// Connect dials the NATS server at url.
func Connect(url, subject string) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	nc, err := nats.Connect(url,
		nats.Name("pzrunner"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("disconnected from nats")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to nats")
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{nc: nc, subject: subject}, nil
}

func (p *NATSPublisher) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if err := p.nc.Publish(p.subject, data); err != nil {
		log.Debug().Err(err).Str("subject", p.subject).Msg("failed to publish event")
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.nc.Flush(); err != nil {
		log.Debug().Err(err).Msg("nats flush")
	}
	p.nc.Close()
}
