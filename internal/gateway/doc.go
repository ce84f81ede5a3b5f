// Package gateway serves the client protocol over websockets.
//
// Each socket is one connection: it is registered with the subscription
// registry under the identity from its bearer token (or anonymously), gets
// a delivery.Conn for outgoing messages, and has its incoming requests
// (update, delete, subscribe, unsubscribe) dispatched in order. Every
// request is answered with success or error, echoing its messageID.
package gateway
