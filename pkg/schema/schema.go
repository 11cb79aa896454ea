// Package schema declares the boundary with the schema-merge engine. The
// state-machine applier hands it opaque mutation batches decoded from a
// schema_mutation Change, tagged with the proposing node's address as the
// merge origin.
package schema

// Merger applies a batch of schema mutations, attributing them to origin,
// the command's creator address.
type Merger interface {
	Merge(batch []byte, origin string) error
}

// NopMerger discards every batch. It exists so pkg/group0 and tests can
// run the applier end to end without a real schema-merge engine wired in;
// production deployments supply their own Merger.
type NopMerger struct{}

func (NopMerger) Merge(batch []byte, origin string) error { return nil }
