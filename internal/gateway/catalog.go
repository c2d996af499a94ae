package gateway

import (
	"encoding/json"
	"strings"

	"github.com/luocen99/opsconsole/internal/domain"
)

// ActionSpec describes one operator action the gateway knows how to plan.
type ActionSpec struct {
	Action   string
	Mode     domain.TicketMode
	Required []string
	Summary  string
}

var catalog = map[string]ActionSpec{
	"svc.restart": {
		Action:   "svc.restart",
		Mode:     domain.TicketModeMutating,
		Required: []string{"service", "env"},
		Summary:  "restart a service deployment",
	},
	"svc.status": {
		Action:   "svc.status",
		Mode:     domain.TicketModeReadonly,
		Required: []string{"service"},
		Summary:  "show service status",
	},
	"cfg.render": {
		Action:   "cfg.render",
		Mode:     domain.TicketModeReadonly,
		Required: []string{"service"},
		Summary:  "render effective configuration",
	},
	"cfg.write": {
		Action:   "cfg.write",
		Mode:     domain.TicketModeMutating,
		Required: []string{"service", "key", "value"},
		Summary:  "write a configuration override",
	},
	"host.restart": {
		Action:   "host.restart",
		Mode:     domain.TicketModeMutating,
		Required: []string{"host"},
		Summary:  "restart a host",
	},
	"host.wipe": {
		Action:   "host.wipe",
		Mode:     domain.TicketModeMutating,
		Required: []string{"host"},
		Summary:  "wipe a host",
	},
	"k8s.apply": {
		Action:   "k8s.apply",
		Mode:     domain.TicketModeMutating,
		Required: []string{"manifest"},
		Summary:  "apply a kubernetes manifest",
	},
	"cluster.delete": {
		Action:   "cluster.delete",
		Mode:     domain.TicketModeMutating,
		Required: []string{"cluster"},
		Summary:  "delete a cluster",
	},
}

// verbAliases maps leading natural-language verbs onto catalog actions so an
// operator can type "restart payments env=staging" instead of the dotted form.
var verbAliases = map[string]string{
	"restart": "svc.restart",
	"status":  "svc.status",
	"render":  "cfg.render",
}

// ParsedCommand is the structured form of one free-text command line.
type ParsedCommand struct {
	Spec    ActionSpec
	Params  map[string]string
	Missing []string
}

// ParseCommand resolves a free-text command into a catalog action with
// key=value params. Context entries fill params the command line omits.
// Returns nil if no catalog action matches.
func ParseCommand(command string, context map[string]string) *ParsedCommand {
	fields := strings.Fields(strings.TrimSpace(command))
	if len(fields) == 0 {
		return nil
	}

	head := strings.ToLower(fields[0])
	spec, ok := catalog[head]
	if !ok {
		alias, aliased := verbAliases[head]
		if !aliased {
			return nil
		}
		spec = catalog[alias]
	}

	params := map[string]string{}
	for k, v := range context {
		params[k] = v
	}
	var bare []string
	for _, f := range fields[1:] {
		if k, v, found := strings.Cut(f, "="); found && k != "" {
			params[k] = v
			continue
		}
		bare = append(bare, f)
	}
	// Bare words fill required params positionally, command-line provided
	// key=value pairs win.
	for i, name := range spec.Required {
		if i >= len(bare) {
			break
		}
		if _, set := params[name]; !set {
			params[name] = bare[i]
		}
	}

	var missing []string
	for _, name := range spec.Required {
		if params[name] == "" {
			missing = append(missing, name)
		}
	}

	return &ParsedCommand{Spec: spec, Params: params, Missing: missing}
}

// ParamsJSON returns the params as a JSON object. encoding/json emits map
// keys in sorted order, so the encoding is stable.
func (p *ParsedCommand) ParamsJSON() json.RawMessage {
	if len(p.Params) == 0 {
		return nil
	}
	out, _ := json.Marshal(p.Params)
	return out
}
