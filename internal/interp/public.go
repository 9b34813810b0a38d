package interp

import "soupvm/internal/oop"

// The methods below are the public surface internal/primitive's
// PrimitiveInvoker implementation calls through to manipulate an
// *Interp's stack and frame state; everything else in this package
// stays unexported since only send.go/dispatch.go/activate.go/
// reify.go/return.go need it.

// Push pushes v onto the value stack.
func (in *Interp) Push(v oop.Oop) { in.push(v) }

// Pop pops and returns the top of the value stack.
func (in *Interp) Pop() oop.Oop { return in.pop() }

// PopNAndPush pops n values and pushes v in their place (n == 0 is a
// plain push).
func (in *Interp) PopNAndPush(n int, v oop.Oop) { in.popNAndPush(n, v) }

// StackAt reads the stack slot depth words above the top (0 is the
// top itself), without popping.
func (in *Interp) StackAt(depth int) oop.Oop { return in.stackAt(depth) }

// Drop discards n already-pushed values.
func (in *Interp) Drop(n int) { in.drop(n) }

// CurrentActivation reifies (if needed) and returns the currently
// executing frame's Activation.
func (in *Interp) CurrentActivation() oop.Oop { return in.currentActivation() }

// HasLivingFrame reports whether activationOop still backs a live
// frame on the current dynamic chain.
func (in *Interp) HasLivingFrame(activationOop oop.Oop) bool { return in.hasLivingFrame(activationOop) }

// MethodReturn performs an ordinary or non-local return from the
// current frame, dispatching on whether it's a closure activation.
func (in *Interp) MethodReturn(result oop.Oop) { in.methodReturn(result) }

// ClassOf returns o's class object.
func (in *Interp) ClassOf(o oop.Oop) oop.Oop { return in.classOf(o) }

// SendNonBooleanReceiver synthesizes the canned #nonBooleanReceiver:
// send, used by primitives that themselves branch on a receiver that
// turned out not to be a Boolean.
func (in *Interp) SendNonBooleanReceiver(nonBoolean oop.Oop) { in.sendNonBooleanReceiver(nonBoolean) }

// Exit escapes the current Run call with reason, the same panic/
// recover mechanism a stack overflow or isolate interrupt uses.
func (in *Interp) Exit(reason string) { in.exit(reason) }
