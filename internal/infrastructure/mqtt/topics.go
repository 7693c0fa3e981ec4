package mqtt

import "fmt"

// Topic prefixes.
const (
	// TopicPrefix is the root of every drivelink topic.
	TopicPrefix = "drivelink"

	// TopicPrefixConnection is the base for connection topics.
	TopicPrefixConnection = TopicPrefix + "/connection"

	// TopicPrefixSystem is the base for service topics.
	TopicPrefixSystem = TopicPrefix + "/system"
)

// Topics provides builders for drivelink MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.ConnectionStatus() // "drivelink/connection/status"
type Topics struct{}

// SystemStatus returns the service online/offline topic.
//
// Example: drivelink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// ConnectionStatus returns the retained connection snapshot topic.
//
// Example: drivelink/connection/status
func (Topics) ConnectionStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixConnection)
}

// ConnectionEvents returns the transition event topic.
//
// Example: drivelink/connection/events
func (Topics) ConnectionEvents() string {
	return fmt.Sprintf("%s/events", TopicPrefixConnection)
}

// ConnectionCommand returns the topic console lines are received on.
//
// Example: drivelink/connection/command
func (Topics) ConnectionCommand() string {
	return fmt.Sprintf("%s/command", TopicPrefixConnection)
}

// ConnectionCommandResult returns the topic command results are published on.
//
// Example: drivelink/connection/command/result
func (Topics) ConnectionCommandResult() string {
	return fmt.Sprintf("%s/command/result", TopicPrefixConnection)
}

// AllTopics returns a pattern matching every drivelink topic.
//
// Pattern: drivelink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
