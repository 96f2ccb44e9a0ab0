package worker

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("worker",
	fx.Provide(New),
	fx.Invoke(StartWorker),
)

func StartWorker(lc fx.Lifecycle, w *Worker) {
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				defer close(done)
				w.RunForever(runCtx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Stop claiming, then wait for the tick in progress to drain
			// its in-flight authority calls.
			cancel()
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
