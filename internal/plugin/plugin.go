// Package plugin hosts the operator-code visibility plugin.
//
// The plugin attaches to events.UsersUpdateThreadsAlter and narrows the
// pending threads list to what the viewing operator may see.
package plugin

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mattjoyce/threadgate/internal/events"
	"github.com/mattjoyce/threadgate/internal/visibility"
)

const (
	Name    = "filter_visitors_by_operator_code"
	Version = "0.1.0"
)

// Publisher receives a summary of each filter run. *events.Hub satisfies it.
type Publisher interface {
	Publish(kind string, data any) events.Record
}

// FilterReport is published as events.ThreadsFiltered.
type FilterReport struct {
	DispatchID string  `json:"dispatch_id"`
	OperatorID int64   `json:"operator_id"`
	Exempt     bool    `json:"exempt"`
	Before     int     `json:"before"`
	After      int     `json:"after"`
	Hidden     []int64 `json:"hidden,omitempty"`
	LoadErrors int     `json:"load_errors,omitempty"`
}

// Plugin filters threads opened with an operator code.
type Plugin struct {
	config    visibility.Config
	loader    visibility.ThreadLoader
	publisher Publisher
	logger    *slog.Logger
}

// Option customizes a Plugin.
type Option func(*Plugin)

// WithPublisher reports every filter run to p.
func WithPublisher(p Publisher) Option {
	return func(pl *Plugin) { pl.publisher = p }
}

// WithLogger sets the plugin logger.
func WithLogger(l *slog.Logger) Option {
	return func(pl *Plugin) { pl.logger = l }
}

// New builds the plugin. cfg is copied and never changes afterwards.
func New(cfg visibility.Config, loader visibility.ThreadLoader, opts ...Option) (*Plugin, error) {
	if loader == nil {
		return nil, fmt.Errorf("thread loader is required")
	}
	p := &Plugin{
		config: cfg,
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Version() string { return Version }

// Initialized is always true; the plugin has no setup beyond New.
func (p *Plugin) Initialized() bool { return true }

// Config returns the plugin configuration.
func (p *Plugin) Config() visibility.Config { return p.config }

// Run attaches the plugin to the dispatcher.
func (p *Plugin) Run(sub events.Subscriber) {
	sub.AttachListener(events.UsersUpdateThreadsAlter, p.alterThreads)
	p.logger.Info("plugin attached",
		"event", events.UsersUpdateThreadsAlter,
		"version", Version,
		"enable_for_supervisors", p.config.EnableForSupervisors,
	)
}

func (p *Plugin) alterThreads(ctx context.Context, raw any) {
	args, ok := raw.(*events.ThreadsAlterArgs)
	if !ok || args == nil {
		p.logger.Warn("unexpected event payload", "event", events.UsersUpdateThreadsAlter, "type", fmt.Sprintf("%T", raw))
		return
	}
	if args.Operator == nil {
		return
	}
	p.AlterThreads(ctx, args)
}

// AlterThreads replaces args.Threads with the filtered list.
func (p *Plugin) AlterThreads(ctx context.Context, args *events.ThreadsAlterArgs) {
	before := len(args.Threads)
	res := visibility.Apply(ctx, args.Operator, p.config, args.Threads, p.loader)
	args.Threads = res.Threads

	for _, f := range res.Failed {
		p.logger.Warn("failed to load queued thread, keeping it visible",
			"thread_id", f.ThreadID, "error", f.Err)
	}

	var opID int64
	if args.Operator != nil {
		opID = args.Operator.ID
	}
	if len(res.Hidden) > 0 {
		p.logger.Debug("hid routed threads", "operator_id", opID, "hidden", res.Hidden)
	}

	if p.publisher != nil {
		p.publisher.Publish(events.ThreadsFiltered, FilterReport{
			DispatchID: args.DispatchID,
			OperatorID: opID,
			Exempt:     res.Exempt,
			Before:     before,
			After:      len(res.Threads),
			Hidden:     res.Hidden,
			LoadErrors: len(res.Failed),
		})
	}
}
