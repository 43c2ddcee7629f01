// Package engine assembles the latch runtime: a store, worker and
// merger registries, the execution pipeline, a polling pool, the
// notifier, the dead-letter queue, and lifecycle extensions.
//
// Typical use:
//
//	e, err := engine.New(memory.New(),
//		engine.WithConcurrency(20),
//		engine.WithQueues("default", "critical"),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	e.RegisterWorkerFunc("send-email", sendEmail)
//	if err := e.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer e.Stop(context.Background())
//
//	j, err := e.Submit(ctx, "send-email",
//		job.WithInput(payload.Payload{"to": "user@example.com"}),
//	)
package engine
