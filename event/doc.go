/*
Package event decodes the notifications that clients publish on the hybrid rendering topics into typed events.

Three kinds of notification are understood, one per subscribed topic family:

	connect:    {"id": "<client>", "data": {"namespacedScene": "<scene>"}}
	disconnect: {"id": "<client>", "data": "<scene>"}
	status:     {"data": {"data": "<scene>", "remoteRendered": true}}

Anything else fails with ErrMalformedEvent. Decoding never has side effects, so a rejected payload can simply be logged and dropped.
*/
package event
