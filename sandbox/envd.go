package sandbox

import "encoding/json"

const envdProcessStartProcedure = "/process.Process/Start"

// Messages of envd's process service, in the JSON form its Connect handler
// accepts. Byte fields travel as standard base64, which encoding/json
// produces for []byte.
type envdProcessConfig struct {
	Cmd  string            `json:"cmd"`
	Args []string          `json:"args,omitempty"`
	Envs map[string]string `json:"envs,omitempty"`
	Cwd  string            `json:"cwd,omitempty"`
}

type envdStartRequest struct {
	Process envdProcessConfig `json:"process"`
}

type envdStartResponse struct {
	Event envdProcessEvent `json:"event"`
}

// envdProcessEvent has exactly one field set. Keepalive events carry none of
// these and are skipped.
type envdProcessEvent struct {
	Start *envdStartEvent `json:"start,omitempty"`
	Data  *envdDataEvent  `json:"data,omitempty"`
	End   *envdEndEvent   `json:"end,omitempty"`
}

type envdStartEvent struct {
	PID uint32 `json:"pid"`
}

type envdDataEvent struct {
	Stdout []byte `json:"stdout,omitempty"`
	Stderr []byte `json:"stderr,omitempty"`
}

type envdEndEvent struct {
	ExitCode int    `json:"exitCode"`
	Exited   bool   `json:"exited"`
	Status   string `json:"status,omitempty"`
	Error    string `json:"error,omitempty"`
}

// envdJSONCodec replaces connect's protojson codec so the process service
// can be called with plain structs instead of generated protobuf types.
type envdJSONCodec struct{}

func (envdJSONCodec) Name() string { return "json" }

func (envdJSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (envdJSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
