package config

// Default configuration constants for the agent.
const (
	DefaultInterval           = 30 // seconds between built-in check batches
	DefaultAddress            = "0.0.0.0"
	DefaultPort               = 3333
	DefaultPushInterval       = 60 // seconds between pushes
	DefaultCustomCheckWorkers = 8
	DefaultCustomInterval     = 60
	DefaultCustomTimeout      = 10
	DefaultCustomChecksBucket = "customchecks"

	DefaultAutosslCSRFile = "/etc/openitcockpit-agent/agent.csr"
	DefaultAutosslCRTFile = "/etc/openitcockpit-agent/agent.crt"
	DefaultAutosslKeyFile = "/etc/openitcockpit-agent/agent.key"
	DefaultAutosslCAFile  = "/etc/openitcockpit-agent/server_ca.crt"

	envPrefix = "OITC_AGENT"
)
