package setup

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Verify checks a setup document without opening it as a store. Beyond the
// schema it requires an id and a name for every listed command and unique
// entity ids.
func Verify(b []byte) []error {
	schema, err := compileSchema()
	if err != nil {
		return []error{fmt.Errorf("compile setup schema: %w", err)}
	}
	if err := validate(schema, b); err != nil {
		return []error{err}
	}

	raw := map[string]any{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return []error{err}
	}
	doc := make(map[string]any, len(raw))
	for k, v := range raw {
		doc[strings.ToLower(k)] = v
	}

	var errs []error
	seen := map[string]string{}
	cmds, _ := doc[KeyCommands].([]any)
	for _, c := range cmds {
		cmd, _ := c.(string)
		id, _ := doc[strings.ToLower(IDKey(cmd))].(string)
		if id == "" {
			errs = append(errs, fmt.Errorf("command %q has no %s", cmd, IDKey(cmd)))
			continue
		}
		if _, ok := doc[strings.ToLower(NameKey(cmd))].(string); !ok {
			errs = append(errs, fmt.Errorf("command %q has no %s", cmd, NameKey(cmd)))
		}
		if prev, ok := seen[id]; ok {
			errs = append(errs, fmt.Errorf("entity id %q is used by %q and %q", id, prev, cmd))
			continue
		}
		seen[id] = cmd
	}
	return errs
}

// CommandsOf lists the command identifiers of a setup document.
func CommandsOf(b []byte) []string {
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil
	}
	var out []string
	for k, v := range doc {
		if !strings.EqualFold(k, KeyCommands) {
			continue
		}
		list, _ := v.([]any)
		for _, c := range list {
			if s, ok := c.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}
