// Package delivery implements the per-connection delivery channel.
//
// A Conn owns a Transport and a bounded outbox drained by one writer
// goroutine, so producers (the broker's matching pass, the gateway's
// request handlers) never block on a slow client. The writer also emits a
// heartbeat on a fixed interval.
//
// Any transport write failure or outbox overflow means the connection is
// dead. A dead connection never accepts another message, and it is removed
// from the subscription registry before Close returns.
package delivery
