// Package homeguardian is the realtime core of a home monitoring platform:
// the message path between device uplinks and live dashboards.
//
// # Architecture
//
// Devices publish on NATS subjects of the form
// home.upstream.{device-uid}.{module}.{action}. The ingestion router
// (ingest) resolves the device, fans telemetry out to two JetStream
// work queues and broadcasts live events. The persistence writer
// (persist) drains one queue into Postgres in bulk batches; the rule
// engine (ruleengine) drains the other, evaluating alert rules and
// telemetry-triggered automations with duration debounce. Commands flow
// the other way: the tracker (command) assigns a request id, records the
// request and queues the downlink, which the router publishes on
// home.downstream.{device-uid}.command.set; device replies are correlated
// back by request id, with a periodic sweep timing out unanswered ones.
//
// Live clients connect over websocket (fanout) and receive broadcast
// events filtered by their location authorization scope. Notification
// tasks emitted by the rule engine are drained by the notify consumer
// and handed to an injected delivery capability.
//
// Every component follows the same lifecycle (Initialize, Start, Stop)
// and is wired by the engine package, which also serves the health and
// metrics endpoint. Queue and broadcast plumbing lives in broker on top
// of the circuit-breaking NATS client in natsclient.
package homeguardian
