package termcore

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// TriggerActionConfig is the declarative form of one trigger action.
type TriggerActionConfig struct {
	Type     string `yaml:"type"` // highlight, notify, mark_line, set_variable, run_command, play_sound, send_text, stop_propagation
	Template string `yaml:"template,omitempty"`
	Color    string `yaml:"color,omitempty"`
	TTLMs    int    `yaml:"ttl_ms,omitempty"`
	VarName  string `yaml:"var_name,omitempty"`
}

// TriggerConfig is the declarative form of one trigger.
type TriggerConfig struct {
	Name            string                `yaml:"name"`
	Pattern         string                `yaml:"pattern"`
	Enabled         *bool                 `yaml:"enabled,omitempty"` // default true
	FireOncePerLine bool                  `yaml:"fire_once_per_line,omitempty"`
	Actions         []TriggerActionConfig `yaml:"actions,omitempty"`
}

// CoprocessConfigYAML is the declarative form of one coprocess.
type CoprocessConfigYAML struct {
	Command            string            `yaml:"command"`
	Args               []string          `yaml:"args,omitempty"`
	Cwd                string            `yaml:"cwd,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	CopyTerminalOutput bool              `yaml:"copy_terminal_output,omitempty"`
	RestartPolicy      string            `yaml:"restart_policy,omitempty"` // never, always, on_failure
	RestartDelayMs     int               `yaml:"restart_delay_ms,omitempty"`
	MaxBufferLines     int               `yaml:"max_buffer_lines,omitempty"`
}

func parseTriggerActionType(s string) (TriggerActionType, error) {
	switch s {
	case "highlight":
		return ActionHighlight, nil
	case "notify":
		return ActionNotify, nil
	case "mark_line":
		return ActionMarkLine, nil
	case "set_variable":
		return ActionSetVariable, nil
	case "run_command":
		return ActionRunCommand, nil
	case "play_sound":
		return ActionPlaySound, nil
	case "send_text":
		return ActionSendText, nil
	case "stop_propagation":
		return ActionStopPropagation, nil
	default:
		return 0, fmt.Errorf("config: unknown trigger action type %q", s)
	}
}

// LoadTriggersYAML bulk-registers triggers from a YAML document:
//
//	triggers:
//	  - name: errors
//	    pattern: 'ERROR:\s+(.+)'
//	    actions:
//	      - type: highlight
//	        color: red
//
// The registry is only modified when every entry is valid.
func (r *TriggerRegistry) LoadTriggersYAML(data []byte) ([]string, error) {
	var doc struct {
		Triggers []TriggerConfig `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	type pending struct {
		cfg     TriggerConfig
		actions []TriggerAction
	}
	staged := make([]pending, 0, len(doc.Triggers))
	for _, cfg := range doc.Triggers {
		if cfg.Pattern == "" {
			return nil, fmt.Errorf("config: trigger %q has no pattern", cfg.Name)
		}
		actions := make([]TriggerAction, 0, len(cfg.Actions))
		for _, a := range cfg.Actions {
			at, err := parseTriggerActionType(a.Type)
			if err != nil {
				return nil, err
			}
			actions = append(actions, TriggerAction{
				Type:     at,
				Template: a.Template,
				Color:    a.Color,
				TTLMs:    a.TTLMs,
				VarName:  a.VarName,
			})
		}
		staged = append(staged, pending{cfg: cfg, actions: actions})
	}

	ids := make([]string, 0, len(staged))
	added := make([]string, 0, len(staged))
	for _, p := range staged {
		id, err := r.Add(p.cfg.Name, p.cfg.Pattern, p.cfg.FireOncePerLine, p.actions)
		if err != nil {
			// Roll back: the registry must never be partially updated.
			for _, prev := range added {
				r.Remove(prev)
			}
			return nil, err
		}
		if p.cfg.Enabled != nil && !*p.cfg.Enabled {
			r.SetEnabled(id, false)
		}
		ids = append(ids, id)
		added = append(added, id)
	}
	return ids, nil
}

// coprocessConfig converts the YAML form to a runtime CoprocessConfig.
func (c CoprocessConfigYAML) coprocessConfig() (CoprocessConfig, error) {
	cfg := CoprocessConfig{
		Command:            c.Command,
		Args:               c.Args,
		Cwd:                c.Cwd,
		Env:                c.Env,
		CopyTerminalOutput: c.CopyTerminalOutput,
		RestartDelay:       time.Duration(c.RestartDelayMs) * time.Millisecond,
		MaxBufferLines:     c.MaxBufferLines,
	}
	switch c.RestartPolicy {
	case "", "never":
		cfg.RestartPolicy = RestartNever
	case "always":
		cfg.RestartPolicy = RestartAlways
	case "on_failure":
		cfg.RestartPolicy = RestartOnFailure
	default:
		return cfg, fmt.Errorf("config: unknown restart policy %q", c.RestartPolicy)
	}
	return cfg, nil
}

// LoadCoprocessesYAML starts every coprocess described in a YAML document:
//
//	coprocesses:
//	  - command: /usr/bin/tee
//	    args: [/tmp/session.log]
//	    copy_terminal_output: true
//	    restart_policy: on_failure
//
// Returns the ids of the started coprocesses. On the first failure, the
// already-started coprocesses are stopped again.
func (m *CoprocessManager) LoadCoprocessesYAML(data []byte) ([]string, error) {
	var doc struct {
		Coprocesses []CoprocessConfigYAML `yaml:"coprocesses"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	configs := make([]CoprocessConfig, 0, len(doc.Coprocesses))
	for _, c := range doc.Coprocesses {
		cfg, err := c.coprocessConfig()
		if err != nil {
			return nil, err
		}
		if err := validateCoprocessConfig(cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		id, err := m.Start(cfg)
		if err != nil {
			for _, prev := range ids {
				_ = m.Stop(prev)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
