package config

import (
	"encoding/json"
	"os"
)

// fileConfig is the on-disk schema. Pointer fields distinguish "omitted" from
// zero values so the merge can fill gaps from defaults. Unknown keys are
// ignored by the JSON decoder.
type fileConfig struct {
	Version        *int           `json:"version"`
	Enabled        *bool          `json:"enabled"`
	StoreDir       *string        `json:"store_dir"`
	DefaultService *string        `json:"default_service"`
	SDK            *fileSDK       `json:"sdk"`
	Redaction      *fileRedaction `json:"redaction"`
	MCP            *fileMCP       `json:"mcp"`
}

type fileSDK struct {
	Enabled       *bool `json:"enabled"`
	CaptureStdout *bool `json:"capture_stdout"`
	CaptureStderr *bool `json:"capture_stderr"`
}

type fileRedaction struct {
	Enabled  *bool     `json:"enabled"`
	Keys     *[]string `json:"keys"`
	Patterns *[]string `json:"patterns"`
}

type fileMCP struct {
	MaxResults        *int   `json:"max_results"`
	DefaultLookbackMS *int64 `json:"default_lookback_ms"`
	MaxOutputChars    *int   `json:"max_output_chars"`
	MaxMessageChars   *int   `json:"max_message_chars"`
}

// readConfigFile reads path as a JSON object. The second return is false on
// any read or parse failure; the caller treats the file as absent.
func readConfigFile(path string) (fileConfig, bool) {
	var fc fileConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return fc, false
	}
	// Reject non-object documents up front: a top-level array or scalar is
	// treated as absent rather than a partial merge.
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return fc, false
	}
	if err := json.Unmarshal(raw, &fc); err != nil {
		return fc, false
	}
	return fc, true
}

// mergeFile applies the file layer over cfg. Top-level scalars override
// wholesale; the sdk, redaction and mcp sections merge key-by-key.
func mergeFile(cfg *Config, fc fileConfig, ignoreStoreDir bool) {
	if fc.Version != nil {
		cfg.Version = *fc.Version
	}
	if fc.Enabled != nil {
		cfg.Enabled = *fc.Enabled
	}
	if fc.StoreDir != nil && !ignoreStoreDir {
		cfg.StoreDir = *fc.StoreDir
	}
	if fc.DefaultService != nil {
		cfg.DefaultService = *fc.DefaultService
	}
	if fc.SDK != nil {
		if fc.SDK.Enabled != nil {
			cfg.SDK.Enabled = *fc.SDK.Enabled
		}
		if fc.SDK.CaptureStdout != nil {
			cfg.SDK.CaptureStdout = *fc.SDK.CaptureStdout
		}
		if fc.SDK.CaptureStderr != nil {
			cfg.SDK.CaptureStderr = *fc.SDK.CaptureStderr
		}
	}
	if fc.Redaction != nil {
		if fc.Redaction.Enabled != nil {
			cfg.Redaction.Enabled = *fc.Redaction.Enabled
		}
		if fc.Redaction.Keys != nil {
			cfg.Redaction.Keys = *fc.Redaction.Keys
		}
		if fc.Redaction.Patterns != nil {
			cfg.Redaction.Patterns = *fc.Redaction.Patterns
		}
	}
	if fc.MCP != nil {
		if fc.MCP.MaxResults != nil {
			cfg.MCP.MaxResults = *fc.MCP.MaxResults
		}
		if fc.MCP.DefaultLookbackMS != nil {
			cfg.MCP.DefaultLookbackMS = *fc.MCP.DefaultLookbackMS
		}
		if fc.MCP.MaxOutputChars != nil {
			cfg.MCP.MaxOutputChars = *fc.MCP.MaxOutputChars
		}
		if fc.MCP.MaxMessageChars != nil {
			cfg.MCP.MaxMessageChars = *fc.MCP.MaxMessageChars
		}
	}
}
