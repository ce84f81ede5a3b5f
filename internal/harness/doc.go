// Package harness runs end-to-end scenarios against the live-query broker.
//
// A scenario declares a set of clients and a sequence of steps. Each
// scenario executes against a fresh in-memory store with the real object
// writer, change feed, subscription registry and broker. Every message a
// client would receive is captured in a transcript.
//
// # Scenario Format
//
//	name: private_note
//	description: "Only recipients see a private note"
//	batchSize: 100
//	clients:
//	  - name: alice
//	    identity: alice
//	  - name: anon
//	steps:
//	  - as: anon
//	    subscribe: notes
//	    query: { kind: note }
//	  - as: alice
//	    update: { _id: note-1, kind: note, _to: [bob] }
//	    rules:
//	      - nearMisses: [[text]]
//	  - as: alice
//	    delete: note-1
//	    expect: { error: CONFLICT }
//	assertions:
//	  - type: received
//	    client: anon
//	    query: notes
//	    ids: [note-1]
//
// Each step sets exactly one of update, delete, subscribe, unsubscribe or
// disconnect. After every step the harness runs one matching pass, so the
// transcript is a deterministic function of the scenario.
//
// # Assertion Types
//
//   - received: every listed id was delivered to the client in an updates
//     message (optionally restricted to one query)
//   - not_received: none of the listed ids was delivered
//   - count: the client received exactly N messages of a type
//   - final_state: the live version of an object holds the expected fields,
//     or the object is deleted
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/private_note.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(ctx, scenario)
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
