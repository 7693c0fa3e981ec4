// Package mqtt publishes drivelink connection state on an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Retained connection status and a stream of transition events
//   - A command topic that accepts console lines for the connected device
//   - Last Will and Testament (LWT) so subscribers see drivelink go offline
//
// # Topics
//
//	drivelink/system/status             retained, online/offline (LWT)
//	drivelink/connection/status         retained, latest connection snapshot
//	drivelink/connection/events         one message per transition
//	drivelink/connection/command        console lines in
//	drivelink/connection/command/result execution results out
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mgr.AddSink(mqtt.NewEventPublisher(client, byte(cfg.MQTT.QoS), log))
//
//	bridge := mqtt.NewCommandBridge(client, executor, byte(cfg.MQTT.QoS), log)
//	if err := bridge.Start(ctx); err != nil {
//	    return err
//	}
package mqtt
