package service

// Package service runs the image processor and reports what it does.
//
// Overview
// Processor is the caller facing entry point. For one batch it resolves the
// processor through a Locator, writes the job file into the export
// directory, runs the processor and hands the RunResult to history, metrics
// and result sinks.
//
// Runner is a thin, opinionated wrapper around os/exec:
//   - starts the process in its own directory with stdin closed
//   - copies stdout into a protocol.Parser as it arrives
//   - keeps a bounded tail of stderr for diagnostics
//   - kills the process once the timeout elapses
//   - returns exactly one RunResult per run
//
// Data flow:
//
//   Processor            Runner{cmd}            Reporter        progress.Bus
//       |                    |                      |                |
//   Resolve, job.Write       |                      |                |
//       | Run() ------------>| exec.Start           |                |
//       |                    | stdout -> Parser --->| progress() --->| Publish
//       |                    | stderr -> tail       |                |
//       |                    | Wait() / timer       |                |
//       |<----- RunResult ---| resolve once ------->| finish()       |
//   sinks, history, metrics  |                      |                |
//
// Invariants:
//   - Each run owns its process, buffers and timer, runs share nothing.
//   - Exit, timeout, launch error and cancellation race on one resolution;
//     only the first one settles the run, the others are no-ops.
//   - Run returns only after the process was reaped and its pipes closed.
//   - Progress arriving after the run settled is dropped.
//   - Exit code 0 is success, even with ERROR lines reported.
//
// internal/service/processor_test.go is the best source about how to properly
// use the Processor.
