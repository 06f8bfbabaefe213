package engine

// ReclaimGarbage sweeps the retained-schedule slice and drops every
// schedule the audio thread has provably moved past: one whose Version
// is strictly less than the version the bridge last started executing.
// Grounded on original_source/src/engine/mod.rs's GarbageCollector,
// which runs the equivalent sweep on an idle tick. Dropping each
// buffer's reference here is what lets audio.Buffer.RefCount fall to
// zero; nothing else in this port ever calls Release on a compiled
// schedule's buffers.
func (e *Engine) ReclaimGarbage() {
	if e.bridge == nil || len(e.retained) == 0 {
		return
	}
	started := e.bridge.StartedVersion()

	kept := e.retained[:0]
	for _, r := range e.retained {
		if r.sched.Version < started {
			for _, b := range r.sched.AllBuffers {
				b.Release()
			}
			continue
		}
		kept = append(kept, r)
	}
	e.retained = kept
}
