// Package protocol implements the client-side core of a decentralized
// proximity-tracing protocol: per-day secret derivation, ephemeral broadcast
// identifier generation, observation aggregation into contact records, and
// matching of stored contacts against tracing data disclosed by diagnosed
// users.
//
// # Variants
//
// Two protocol designs live behind the single ContactTracer interface,
// selected once at construction via TracingConfig.Variant:
//
//  1. Low-cost: a rotating day key SK_t with SK_{t+1} = H(SK_t). The day's
//     identifiers are a PRF of the day key, and a diagnosed user discloses
//     the day key itself. Verification recomputes the identifiers from the
//     disclosed key and compares against locally stored contact records.
//
//  2. Unlinkable: one independent random seed per epoch. Identifiers are
//     derived from seeds individually, so disclosing one epoch reveals
//     nothing about any other. The disclosure payload is a cuckoo filter
//     over hashed observations H(EphID || epoch), and verification queries
//     the filter with the digests of locally observed identifiers. Filter
//     hits are a soft signal bounded by the configured false-positive rate,
//     never proof of contact.
//
// # Workflow
//
// A host application drives the core as discrete, non-overlapping steps from
// a single control thread, mirroring an app's periodic wake cycles:
//
//	tracer.NextDay()            // at each local-midnight wakeup
//	tracer.EphIDForTime(now)    // what the radio should broadcast
//	tracer.ReceiveScans(obs)    // raw sightings from the radio layer
//	tracer.ProcessEpoch(i)      // at each epoch boundary: aggregate contacts
//	tracer.GetTracingInformation(...) // on diagnosis: build upload payload
//	tracer.MatchesWithBatches(...)    // after each backend poll cycle
//
// The radio and the backend are external collaborators: the core never
// performs I/O, every operation is a bounded deterministic computation, and
// no operation blocks or retries internally.
//
// # Contact records
//
// Raw observations are append-only within the current day. ProcessEpoch folds
// an epoch's observations into per-identifier contact runs; a run is promoted
// to an immutable ContactRecord only once it spans at least
// MinContactEpochs distinct epochs. Runs below the threshold are discarded,
// not retried: they represent genuinely insufficient exposure. Records and
// retained key material are purged together once they age out of the
// retention window.
package protocol
