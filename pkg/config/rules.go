package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowbridge/bridge/pkg/bridge"
)

// RulesDoc is the decoded shape of data/rules.json: a flat list of
// operator-supplied routing rules, validated and compiled by Compile.
type RulesDoc struct {
	Rules []RawRule `json:"rules"`
}

// LoadRulesFromDataDir reads and decodes <dataDir>/rules.json. A missing
// file is not an error — it decodes to an empty rule set, since a bridge
// with no rules configured yet is a valid (if useless) starting state.
func LoadRulesFromDataDir(dataDir string) (*RulesDoc, error) {
	path := filepath.Join(dataDir, "rules.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RulesDoc{}, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var doc RulesDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &doc, nil
}

// Compile validates every raw rule against knownInstances (as returned by
// AppConfig.InstanceKinds) and converts it into the router's bridge.Rule
// representation. An instance_id referenced by a rule but absent from
// configuration is a startup error, per the rule invariant that every
// instance_id it names must appear in config.
func Compile(raw []RawRule, knownInstances map[string]string) ([]bridge.Rule, error) {
	rules := make([]bridge.Rule, 0, len(raw))
	for i, r := range raw {
		rule, err := compileOne(r, knownInstances)
		if err != nil {
			return nil, fmt.Errorf("rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func compileOne(r RawRule, knownInstances map[string]string) (bridge.Rule, error) {
	switch bridge.RuleType(r.Type) {
	case bridge.RuleConnect:
		return compileConnect(r, knownInstances)
	case bridge.RuleForward, "":
		return compileForward(r, knownInstances)
	default:
		return bridge.Rule{}, fmt.Errorf("unknown rule type %q", r.Type)
	}
}

func compileForward(r RawRule, knownInstances map[string]string) (bridge.Rule, error) {
	from, err := compileAddressMap(r.From, knownInstances, "from")
	if err != nil {
		return bridge.Rule{}, err
	}
	to, err := compileAddressMap(r.To, knownInstances, "to")
	if err != nil {
		return bridge.Rule{}, err
	}
	return bridge.Rule{
		Type: bridge.RuleForward,
		From: from,
		To:   to,
		Msg:  bridge.MsgConfig(r.Msg),
	}, nil
}

func compileAddressMap(raw map[string]map[string]any, knownInstances map[string]string, side string) (map[string]bridge.Channel, error) {
	out := make(map[string]bridge.Channel, len(raw))
	for instanceID, addr := range raw {
		if _, ok := knownInstances[instanceID]; !ok {
			return nil, fmt.Errorf("%s: unknown instance id %q", side, instanceID)
		}
		channel, err := compileAddress(addr)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", side, instanceID, err)
		}
		out[instanceID] = channel
	}
	return out, nil
}

func compileAddress(addr map[string]any) (bridge.Channel, error) {
	channel := make(bridge.Channel, len(addr))
	for k, v := range addr {
		if k == "msg" {
			return nil, fmt.Errorf(`"msg" is reserved and cannot be a channel address key`)
		}
		channel[k] = v
	}
	return channel, nil
}

func compileConnect(r RawRule, knownInstances map[string]string) (bridge.Rule, error) {
	channels := make(map[string]bridge.ChannelWithMsg, len(r.Channels))
	for instanceID, raw := range r.Channels {
		if _, ok := knownInstances[instanceID]; !ok {
			return bridge.Rule{}, fmt.Errorf("channels: unknown instance id %q", instanceID)
		}
		channel := make(bridge.Channel, len(raw))
		var localMsg bridge.MsgConfig
		for k, v := range raw {
			if k == "msg" {
				m, ok := v.(map[string]any)
				if !ok {
					return bridge.Rule{}, fmt.Errorf("channels.%s.msg: must be an object", instanceID)
				}
				localMsg = bridge.MsgConfig(m)
				continue
			}
			channel[k] = v
		}
		channels[instanceID] = bridge.ChannelWithMsg{Address: channel, Msg: localMsg}
	}
	return bridge.Rule{
		Type:     bridge.RuleConnect,
		Channels: channels,
		Msg:      bridge.MsgConfig(r.Msg),
	}, nil
}
