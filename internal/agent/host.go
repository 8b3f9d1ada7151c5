// Package agent connects the queue to a host-managed background execution
// agent: something outside this process (a systemd or launchd timer, a
// job runner, a peer service) that can ask for a drain even when no
// session is active.
//
// The host facility is a port (Host) with three adapters: NoopHost when
// there is none, FileHost for a spool directory watched with fsnotify,
// and RedisHost for Redis pub/sub. Bridge sits in front of the port and
// never lets a host failure reach the caller.
package agent

import (
	"context"
	"time"
)

// Kind says what the agent is asking for.
type Kind string

const (
	KindDrain Kind = "drain"
	KindSync  Kind = "sync"
)

// Message is a request from the background agent.
type Message struct {
	Kind   Kind      `json:"kind"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Host is the background execution facility.
type Host interface {
	// RequestDrain asks the agent to schedule a drain. Best-effort.
	RequestDrain(ctx context.Context) error
	// Messages delivers agent requests. A nil channel means the host never
	// sends any. The channel is closed by Close.
	Messages() <-chan Message
	Close() error
}

// NoopHost is used when the platform has no background facility: drain
// requests are accepted and dropped, and no messages ever arrive.
type NoopHost struct{}

func (NoopHost) RequestDrain(context.Context) error { return nil }
func (NoopHost) Messages() <-chan Message           { return nil }
func (NoopHost) Close() error                       { return nil }

// parseKind maps a free-form token to a Kind, defaulting to KindDrain.
func parseKind(s string) Kind {
	if Kind(s) == KindSync {
		return KindSync
	}
	return KindDrain
}
