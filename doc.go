// Package mindweave is the client-side synchronization engine for
// collaboratively edited mind-map documents. It keeps an authoritative
// in-memory copy of one document's node tree, applies local edits after
// the backend confirms them, consumes the document's realtime event
// stream for everyone else's edits, and reconciles the two without losing
// or duplicating nodes.
//
// A typical session:
//
//	conf := mindweave.NewConfig("http://localhost:8000")
//	client, err := mindweave.NewClient(conf, "42")
//	if err != nil {
//		// ...
//	}
//	defer client.Close(ctx)
//
//	if err := client.Connect(ctx); err != nil {
//		// ...
//	}
//	if err := client.Load(ctx); err != nil {
//		// ...
//	}
//
//	node, err := client.CreateNode(ctx, "", nodes.Patch{"text": "root"})
//	for n := range client.Tree() {
//		// render n
//	}
//
// Mutations travel over HTTP through the gateway; the realtime channel
// only carries events and presence. A client's own mutation therefore
// comes back twice, once as the HTTP acknowledgement and once as the
// echoed event, in either order. The store de-duplicates by node uid, not
// event identity, so both paths leave exactly one node.
//
// Consistency limitation: conflicts are resolved last-write-wins per
// field. Concurrent edits to the same field from two clients silently
// overwrite in backend serialization order; there are no vector clocks or
// version checks. The engine only guarantees that a given logical mutation
// is never dropped and never applied twice.
package mindweave
