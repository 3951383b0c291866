package connectivity

import (
	"strings"
	"sync"

	"github.com/baozi-iot/baozi-node/internal/infrastructure/mqtt"
)

// Command handles one named command. payload is the raw message body.
type Command func(payload []byte)

// CommandRouter dispatches messages published on <device>/command/<name>
// to the command registered under name.
type CommandRouter struct {
	topics mqtt.Topics
	logger Logger

	mu       sync.Mutex
	commands map[string]Command
}

// NewCommandRouter creates an empty router for the device in topics.
func NewCommandRouter(topics mqtt.Topics, logger Logger) *CommandRouter {
	if logger == nil {
		logger = noopLogger{}
	}
	return &CommandRouter{
		topics:   topics,
		logger:   logger,
		commands: make(map[string]Command),
	}
}

// Register adds or replaces the command called name.
func (r *CommandRouter) Register(name string, cmd Command) {
	r.mu.Lock()
	r.commands[name] = cmd
	r.mu.Unlock()
}

// Install subscribes the router to the device's command pattern on n.
func (r *CommandRouter) Install(n *Node) error {
	return n.Handle(r.topics.Commands(), r.Handle)
}

// Handle is the bus handler for the command pattern.
func (r *CommandRouter) Handle(topic string, payload []byte) {
	name, ok := strings.CutPrefix(topic, r.topics.Command(""))
	if !ok || name == "" {
		r.logger.Warn("ignoring message outside the command namespace", "topic", topic)
		return
	}

	r.mu.Lock()
	cmd := r.commands[name]
	r.mu.Unlock()

	if cmd == nil {
		r.logger.Warn("unknown command", "command", name)
		return
	}
	r.logger.Info("running command", "command", name)
	cmd(payload)
}
