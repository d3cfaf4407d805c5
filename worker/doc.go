/*
Package worker starts and stops render worker processes.

A worker is launched with a single opaque launch identifier as its argument. It does not parse its scene
from the command line: on startup it subscribes to the pairing topic for its launch identifier and receives
the connect request that caused it to be spawned.

Workers are plain local processes. Launch returns as soon as the process has started; the render worker's
own startup is asynchronous and nothing waits for it to become ready.
*/
package worker
