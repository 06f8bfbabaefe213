package compiler

import "github.com/meadowlarkdaw/dropseed-go/pkg/schedule"

// verify walks a candidate schedule's task list in order and checks the
// invariants the audio thread depends on: every buffer a task reads was
// either produced by a task earlier in the list or is a graph input the
// executor fills before the first task runs, and no buffer is written
// again before every read the compiler scheduled against its previous
// write has actually happened.
//
// The buffer-assignment pass (§4.6 Phase 2) hands the identical
// *audio.Buffer back out to a later, unrelated producer once it has
// determined nothing still needs the earlier producer's data — the same
// object legitimately appears as the write target of two different
// tasks. What must never happen is a producer clobbering a buffer a
// still-pending consumer hasn't read yet, so the check below only flags
// a rewrite that isn't preceded by at least one new read since the
// buffer's last write.
//
// The compiler only ever constructs schedules where this holds by
// topological construction; this pass exists so a bug in the wiring
// logic fails loudly in Compile rather than racing silently on the
// audio thread.
func verify(sched *schedule.Schedule, preseeded []any) error {
	produced := make(map[any]bool)
	reads := make(map[any]int)
	readsAtLastWrite := make(map[any]int)
	written := make(map[any]bool)

	for _, b := range sched.GraphInputBuffers {
		produced[b] = true
	}
	for _, b := range preseeded {
		produced[b] = true
	}

	for _, task := range sched.Tasks {
		bu, ok := task.(schedule.BufferUser)
		if !ok {
			continue
		}
		for _, b := range bu.ReadBuffers() {
			if !produced[b] {
				return ErrAliasedReadWrite
			}
			reads[b]++
		}
		for _, b := range bu.WriteBuffers() {
			if written[b] && reads[b] == readsAtLastWrite[b] {
				return ErrBufferWriteConflict
			}
			written[b] = true
			readsAtLastWrite[b] = reads[b]
			produced[b] = true
		}
	}
	return nil
}
