package logger

// Component name constants for standardized logging
const (
	// Core components
	ComponentCore      = "Core"
	ComponentPublisher = "Publisher"
	ComponentSink      = "Sink"

	// Delivery components
	ComponentTransport = "Transport"
	ComponentRetry     = "Retry"

	// Ingest components
	ComponentListener = "Listener"

	// Configuration
	ComponentConfigManager = "ConfigManager"

	// Fault channel
	ComponentFaultReporter = "FaultReporter"

	// Lifecycle state machines
	ComponentLifecycle = "Lifecycle"
)
