// Package pipeline runs a fixture update as a sequence of steps.
//
// A run for one channel resolves the model assertion, prepares the image
// trees with the external command, packs them into the fixture archive and
// finally records the result in the history database. Each stage is a Step
// that receives the shared *model.Run and fills in its part.
//
// Steps that hold resources implement Finisher; the pipeline calls Finish
// on every started step, in reverse order, whether the run succeeded or not.
//
// BatchProcessor runs one pipeline per channel with bounded concurrency
// using errgroup.
package pipeline
