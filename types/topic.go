package types

import (
	"fmt"
	"strings"

	"github.com/longczx/home-guardian/errors"
)

// Module identifies which device-side subsystem produced an uplink message.
type Module int

const (
	// ModuleUnknown is the zero value for unrecognized modules
	ModuleUnknown Module = iota
	// ModuleTelemetry carries sensor readings
	ModuleTelemetry
	// ModuleState carries online/offline status reports (including LWT)
	ModuleState
	// ModuleCommand carries replies to downstream commands
	ModuleCommand
)

// String returns the wire representation of the module
func (m Module) String() string {
	switch m {
	case ModuleTelemetry:
		return "telemetry"
	case ModuleState:
		return "state"
	case ModuleCommand:
		return "command"
	default:
		return "unknown"
	}
}

// ParseModule maps a topic segment to its Module. Unknown segments return
// ModuleUnknown and false rather than an error: the router logs and drops.
func ParseModule(segment string) (Module, bool) {
	switch segment {
	case "telemetry":
		return ModuleTelemetry, true
	case "state":
		return ModuleState, true
	case "command":
		return ModuleCommand, true
	default:
		return ModuleUnknown, false
	}
}

const (
	upstreamPrefix   = "home.upstream"
	downstreamPrefix = "home.downstream"

	// UpstreamWildcard matches every device uplink subject.
	UpstreamWildcard = upstreamPrefix + ".>"

	topicSegments = 5
)

// UplinkTopic is the parsed form of a device uplink subject:
// home.upstream.{device-uid}.{module}.{action}
type UplinkTopic struct {
	DeviceUID string
	Module    Module
	Action    string
}

// ParseUplinkSubject parses an uplink subject into its components. Subjects
// that do not match the expected 5-segment shape, or that name an unknown
// module, are rejected with ErrInvalidTopic.
func ParseUplinkSubject(subject string) (UplinkTopic, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != topicSegments || parts[0] != "home" || parts[1] != "upstream" {
		return UplinkTopic{}, errors.WrapInvalid(errors.ErrInvalidTopic, "types", "ParseUplinkSubject",
			fmt.Sprintf("subject %q does not match %s.{uid}.{module}.{action}", subject, upstreamPrefix))
	}
	if parts[2] == "" {
		return UplinkTopic{}, errors.WrapInvalid(errors.ErrInvalidTopic, "types", "ParseUplinkSubject",
			"empty device uid segment")
	}

	module, ok := ParseModule(parts[3])
	if !ok {
		return UplinkTopic{}, errors.WrapInvalid(errors.ErrInvalidTopic, "types", "ParseUplinkSubject",
			fmt.Sprintf("unknown module %q", parts[3]))
	}

	return UplinkTopic{
		DeviceUID: parts[2],
		Module:    module,
		Action:    parts[4],
	}, nil
}

// DownstreamCommandSubject returns the subject commands to a device are
// published on: home.downstream.{device-uid}.command.set
func DownstreamCommandSubject(deviceUID string) string {
	return downstreamPrefix + "." + deviceUID + ".command.set"
}
