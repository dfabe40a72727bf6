// Package watcher reports changes to ingestion input files so that
// `hybridrag ingest --watch` can re-run the pipeline.
//
// A target is either a single input file or a directory whose input files
// (.jsonl, .ndjson, .json, .csv) are all watched. fsnotify watches the
// containing directory, which also catches editors that save by renaming a
// temporary file over the original. Where fsnotify cannot be initialised
// (some network mounts and container volumes) the watcher polls instead.
//
// Events are debounced so a burst of writes triggers a single re-ingest:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go func() { _ = w.Start(ctx, "products.jsonl") }()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        if ev.Operation != watcher.OpDelete {
//	            reingest(ev.Path)
//	        }
//	    }
//	}
package watcher
