/*
Package pubsub connects the launcher to the MQTT broker that carries the hybrid rendering topics.

Inbound notifications are delivered to handlers in the order the broker delivers them, one at a time, which
is what the lifecycle manager relies on to apply events for a scene in arrival order.
*/
package pubsub
