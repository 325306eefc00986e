// Package particles is a GPU particle simulator built on gogpu/wgpu.
//
// Particles live in a single device buffer that grows on demand: appending
// past capacity allocates a larger buffer, copies the existing records
// across, rebinds every consumer and releases the old allocation, all before
// the call returns. A compute pass advances the particles each frame and a
// render pass draws them as points straight from the same buffer.
//
// # Quick Start
//
//	sim, err := particles.NewSimulation(device, queue)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sim.Close()
//
//	ctx := context.Background()
//	sim.Spawn(ctx, 500)
//	sim.Spawn(ctx, 600) // Len 1100, Cap 2048
//
//	for range 60 {
//	    sim.Step(ctx, particles.StepParams{Strength: 0.5, DeltaTime: 1.0 / 60})
//	}
//	frame, err := sim.Render(ctx, 512, 512)
//
// # Synchronization
//
// Every operation submits its work and blocks until the queue reports it
// complete. Waits are bounded by [WithFenceTimeout] (5s by default). A wait
// that fails after submission leaves the simulation corrupted: later calls
// return [ErrCorrupted] and the device must be torn down.
//
// # Logging
//
// particles is silent by default. Use [SetLogger] to route diagnostics to
// any [log/slog] handler.
package particles
