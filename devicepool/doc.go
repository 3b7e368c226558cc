// Package devicepool serializes access to a fixed set of interchangeable
// compute devices, each bound lazily to one loaded model artifact.
//
// A Pool is built from an ordered list of device ids, a LoadFunc that puts
// the model onto one device, and an optional ReclaimFunc run after every
// lease. The first Acquire (or an explicit Initialize) loads every device
// exactly once in a background goroutine; concurrent callers wait on the
// same load. A device whose load fails is excluded for the life of the
// process and reported through Status.
//
// Leases are exclusive. Release runs the reclaim hook and puts the device
// id back on the FIFO of available ids; With wraps both so the device is
// returned on every exit path, panics included.
//
//	pool, err := devicepool.New(devicepool.Config[*Pipeline]{
//	    Name:      "image",
//	    DeviceIDs: []string{"cuda:0", "cuda:1"},
//	    Load:      loadPipeline,
//	})
//	err = pool.With(ctx, func(ctx context.Context, l *devicepool.Lease[*Pipeline]) error {
//	    return l.Artifact().Run(ctx)
//	})
package devicepool
