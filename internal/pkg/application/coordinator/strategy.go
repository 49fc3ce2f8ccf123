package coordinator

import (
	"fmt"
	"io"

	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"gopkg.in/yaml.v2"
)

type Kind string

const (
	Request Kind = "request"
	Sync    Kind = "sync"
)

type Action string

const (
	ActionQuery  Action = "query"
	ActionUpdate Action = "update"
	ActionSync   Action = "sync"
)

type Blocking string

const (
	Always      Blocking = "always"
	Never       Blocking = "never"
	WhileOnline Blocking = "whileOnline"
)

// Strategy tells the coordinator to perform Action on Target whenever Source
// emits the event On. Strategies are plain data, the coordinator interprets them.
type Strategy struct {
	Name       string        `yaml:"name"`
	Kind       Kind          `yaml:"kind"`
	Source     string        `yaml:"source"`
	Target     string        `yaml:"target"`
	On         sources.Event `yaml:"on"`
	Action     Action        `yaml:"action"`
	Filter     string        `yaml:"filter,omitempty"`
	Blocking   Blocking      `yaml:"blocking"`
	OnlineOnly bool          `yaml:"onlineOnly,omitempty"`
}

func (s Strategy) Validate() error {
	if s.Name == "" || s.Source == "" || s.Target == "" {
		return fmt.Errorf("strategy must have a name, a source and a target")
	}

	switch s.Kind {
	case Request:
		if s.Action != ActionQuery && s.Action != ActionUpdate {
			return fmt.Errorf("request strategy %s can not perform %q", s.Name, s.Action)
		}
	case Sync:
		if s.Action != ActionSync {
			return fmt.Errorf("sync strategy %s can not perform %q", s.Name, s.Action)
		}
	default:
		return fmt.Errorf("strategy %s has unknown kind %q", s.Name, s.Kind)
	}

	switch s.On {
	case sources.BeforeQuery, sources.QueryEvent, sources.BeforeUpdate, sources.UpdateEvent, sources.SyncEvent:
	default:
		return fmt.Errorf("strategy %s listens to unknown event %q", s.Name, s.On)
	}

	switch s.Blocking {
	case Always, Never, WhileOnline:
	default:
		return fmt.Errorf("strategy %s has unknown blocking mode %q", s.Name, s.Blocking)
	}

	return nil
}

// DefaultStrategies wires memory, remote and backup sources together
func DefaultStrategies() []Strategy {
	return []Strategy{
		{
			Name: "remote-query", Kind: Request, Source: "memory", On: sources.BeforeQuery,
			Target: "remote", Action: ActionQuery, Filter: FilterNotResolvableLocally, Blocking: Always, OnlineOnly: true,
		},
		{
			Name: "remote-update", Kind: Request, Source: "memory", On: sources.BeforeUpdate,
			Target: "remote", Action: ActionUpdate, Filter: FilterNotLocalOnly, Blocking: WhileOnline,
		},
		{
			Name: "remote-memory-query-sync", Kind: Sync, Source: "remote", On: sources.QueryEvent,
			Target: "memory", Action: ActionSync, Blocking: Always,
		},
		{
			Name: "remote-memory-update-sync", Kind: Sync, Source: "remote", On: sources.UpdateEvent,
			Target: "memory", Action: ActionSync, Blocking: Always,
		},
		{
			Name: "memory-backup-update-sync", Kind: Sync, Source: "memory", On: sources.UpdateEvent,
			Target: "backup", Action: ActionSync, Blocking: Always,
		},
		{
			Name: "memory-backup-sync", Kind: Sync, Source: "memory", On: sources.SyncEvent,
			Target: "backup", Action: ActionSync, Blocking: Always,
		},
	}
}

// LoadStrategies reads a yaml list of strategies
func LoadStrategies(r io.Reader) ([]Strategy, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	strategies := []Strategy{}
	if err = yaml.Unmarshal(b, &strategies); err != nil {
		return nil, err
	}

	for _, s := range strategies {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}

	return strategies, nil
}
