package ws

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type scenario struct {
	Name  string   `yaml:"name"`
	Users []string `yaml:"users"`
	Steps []struct {
		As   string `yaml:"as"`
		Send struct {
			Type      string         `yaml:"type"`
			RequestID string         `yaml:"requestId"`
			Payload   map[string]any `yaml:"payload"`
		} `yaml:"send"`
		Expect []struct {
			To     string         `yaml:"to"`
			Type   string         `yaml:"type"`
			Fields map[string]any `yaml:"fields"`
		} `yaml:"expect"`
	} `yaml:"steps"`
}

func loadScenarios(t *testing.T) []scenario {
	t.Helper()
	b, err := os.ReadFile("testdata/scenarios.yaml")
	require.NoError(t, err)
	var out []scenario
	require.NoError(t, yaml.Unmarshal(b, &out))
	require.NotEmpty(t, out)
	return out
}

func TestScenarios(t *testing.T) {
	for _, sc := range loadScenarios(t) {
		sc := sc
		t.Run(sc.Name, func(t *testing.T) {
			h := newHarness(t, Config{})
			clients := map[string]*client{}
			for _, u := range sc.Users {
				clients[u] = h.connect(t, u)
			}

			last := ""
			for i, step := range sc.Steps {
				from, ok := clients[step.As]
				require.True(t, ok, "step %d: unknown user %s", i, step.As)
				from.send(t, step.Send.Type, step.Send.RequestID, substitute(step.Send.Payload, last))

				for _, exp := range step.Expect {
					to, ok := clients[exp.To]
					require.True(t, ok, "step %d: unknown user %s", i, exp.To)
					f := to.next(t, exp.Type, exp.Fields)
					if exp.Type == OutMessageSent || exp.Type == OutPrivateMessage {
						if id, ok := f.fields()["id"].(string); ok {
							last = id
						}
					}
				}
			}
		})
	}
}

func substitute(payload map[string]any, last string) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok && s == "$last" {
			out[k] = last
			continue
		}
		out[k] = v
	}
	return out
}
