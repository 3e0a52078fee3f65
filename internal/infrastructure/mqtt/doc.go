// Package mqtt connects Benchtop Core to an MQTT broker.
//
// The broker is an optional front-end: when enabled, clients submit
// command requests on benchtop/command and receive the outcome on
// benchtop/ack/{request_id}, while the bench publishes every poll
// snapshot, every stored reading and each waveform preview. See Topics
// for the full hierarchy.
//
// The client reconnects automatically and restores its subscriptions.
// A retained Last Will on benchtop/system/status reports the bench
// offline if the process dies.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.Telemetry(), snapshot, false)
package mqtt
