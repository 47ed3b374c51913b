package config

// Schema is the JSON schema of the configuration file. Durations are Go
// duration strings such as "30s" or "5m".
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "definitions": {
    "duration": {
      "type": "string",
      "pattern": "^(0|([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+)$"
    }
  },
  "properties": {
    "pool": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "min_size": {"type": "integer", "minimum": 0},
        "max_size": {"type": "integer", "minimum": 1},
        "max_uses": {"type": "integer", "minimum": 1},
        "max_idle_time": {"$ref": "#/definitions/duration"},
        "browser_type": {"type": "string", "enum": ["chromium", "chrome", "firefox", "webkit"]},
        "enable_reuse": {"type": "boolean"},
        "creation_retry_delay": {"$ref": "#/definitions/duration"},
        "max_creation_retries": {"type": "integer", "minimum": 1},
        "maintenance_interval": {"$ref": "#/definitions/duration"},
        "request_timeout": {"$ref": "#/definitions/duration"}
      }
    },
    "launch": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "executable_path": {"type": "string"},
        "headless": {"type": "boolean"},
        "no_sandbox": {"type": "boolean"},
        "args": {"type": "array", "items": {"type": "string"}},
        "env": {"type": "object", "additionalProperties": {"type": "string"}},
        "user_data_dir": {"type": "string"},
        "timeout": {"$ref": "#/definitions/duration"},
        "endpoint": {"type": "string"}
      }
    },
    "context": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "proxy_server": {"type": "string"},
        "proxy_bypass": {"type": "string"},
        "dispose_on_detach": {"type": "boolean"}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"},
        "redaction": {"type": "boolean"},
        "max_size_mb": {"type": "integer", "minimum": 0},
        "max_age_days": {"type": "integer", "minimum": 0},
        "compress": {"type": "boolean"}
      }
    },
    "metrics": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string", "pattern": "^/"}
      }
    },
    "tracing": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "service_name": {"type": "string"},
        "sample_ratio": {"type": "number", "minimum": 0, "maximum": 1}
      }
    },
    "fleet": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "enabled": {"type": "boolean"},
        "url": {"type": "string"},
        "prefix": {"type": "string"},
        "timeout": {"$ref": "#/definitions/duration"},
        "ttl": {"$ref": "#/definitions/duration"}
      }
    },
    "http": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "listen": {"type": "string"},
        "shutdown_timeout": {"$ref": "#/definitions/duration"}
      }
    },
    "lifecycle_log": {"type": "string"},
    "pid_file": {"type": "string"}
  }
}`
