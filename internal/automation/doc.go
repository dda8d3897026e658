// Package automation runs routines: named, stored sequences of toy
// commands.
//
// A routine is an ordered list of steps. Each step invokes one command on
// one fleet member, optionally after a delay. A step marked Parallel joins
// the group of the step before it, so
//
//	[A, B(parallel), C(parallel), D]
//
// runs A, B and C together, then D. A failed step aborts the rest of the
// routine unless it is marked ContinueOnError.
//
// Every run is recorded with per-step outcomes, and every step lands in
// the audit log like any other executed command.
//
//	repo := automation.NewSQLiteRepository(db.DB)
//	routines := automation.NewRegistry(repo)
//	if err := routines.Load(ctx); err != nil {
//	    return err
//	}
//	engine := automation.NewEngine(routines, fleet, repo, log)
//	run, err := engine.Run(ctx, "wake-and-spin", "alice", audit.SourceAPI)
package automation
