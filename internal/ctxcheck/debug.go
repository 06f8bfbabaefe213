//go:build debug
// +build debug

// Package ctxcheck validates, in debug builds only, that controller-context
// (C) and audio-context (A) code runs on the goroutines it claims to. It
// costs nothing in release builds (see release.go) since the audio thread
// must never pay for bookkeeping beyond what it needs to process a block.
//
// Grounded on pkg/thread/debug.go's build-tagged checker, with the CLAP
// host thread-check extension query dropped: this core has no concrete
// host to ask, so the goroutine that calls MarkAudio is authoritative
// instead.
package ctxcheck

import (
	"fmt"
	"runtime"
)

type checker struct {
	controllerID uint64
	audioIDs     map[uint64]bool
}

func newChecker() *checker {
	return &checker{audioIDs: make(map[uint64]bool)}
}

func (c *checker) setController() {
	c.controllerID = goroutineID()
}

func (c *checker) markAudio() {
	c.audioIDs[goroutineID()] = true
}

func (c *checker) unmarkAudio() {
	delete(c.audioIDs, goroutineID())
}

func (c *checker) assertController(op string) {
	id := goroutineID()
	if c.controllerID != 0 && id != c.controllerID {
		panic(fmt.Sprintf("ctxcheck: %s called off the controller context (goroutine %d, expected %d)", op, id, c.controllerID))
	}
}

func (c *checker) assertAudio(op string) {
	id := goroutineID()
	if !c.audioIDs[id] {
		panic(fmt.Sprintf("ctxcheck: %s called off the audio context (goroutine %d)", op, id))
	}
}

func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	for i := 10; i < n-1; i++ {
		if buf[i] == ' ' {
			var id uint64
			for j := i + 1; j < n; j++ {
				if buf[j] < '0' || buf[j] > '9' {
					break
				}
				id = id*10 + uint64(buf[j]-'0')
			}
			return id
		}
	}
	return 0
}

var global = newChecker()

// SetController marks the calling goroutine as the controller context.
func SetController() { global.setController() }

// MarkAudio marks the calling goroutine as the audio context, called once
// by the executor's driving loop before the first block.
func MarkAudio() { global.markAudio() }

// UnmarkAudio removes the calling goroutine from the audio context.
func UnmarkAudio() { global.unmarkAudio() }

// AssertController panics if called off the controller context.
func AssertController(op string) { global.assertController(op) }

// AssertAudio panics if called off the audio context.
func AssertAudio(op string) { global.assertAudio(op) }
