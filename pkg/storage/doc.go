/*
Package storage provides BoltDB-backed persistence for chain results.

A processor's chains live only as long as their ChainController;
InvokeStats/InvokeExchange/InvokeInterrupt and the finish callback are
the only way to read an outcome while a chain's controller is still
tracked. Store gives a caller a place to look a chain's final
timetable and metrics up after the processor has already reaped it, in
a single bucket keyed by chain id.

# Usage

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		log.Fatal(err.Error())
	}
	defer store.Close()

	store.SaveChainResult(&storage.ChainResult{
		ChainID:    "chain-42",
		Succeeded:  true,
		Timetable:  tt,
		FinishedAt: time.Now(),
	})

	result, err := store.GetChainResult("chain-42")

# Transactions

Reads use db.View (concurrent, no blocking writers); writes use
db.Update (serialized, fsync on commit). Records round-trip through
JSON, so adding a field to ChainResult is backward compatible as long
as it carries an omitempty tag; removing one is ignored on unmarshal.

# Integration points

  - pkg/processor: saves a ChainResult from a chain's finish callback,
    before the in-memory reap drops the chain from its own map.
*/
package storage
