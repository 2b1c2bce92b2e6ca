// Package watch turns OS filesystem notifications for a workspace root into
// normalized note and folder events.
//
// # Overview
//
// FileWatcher wraps fsnotify and watches the workspace root plus every
// first-level folder. Raw notifications are rebased onto workspace ids
// ("a.md", "Work/b.md", "Work"), filtered, coalesced, and delivered on the
// Events channel as one of:
//
//   - FileAdded, FileChanged, FileDeleted for note files
//   - FolderAdded, FolderDeleted for first-level directories
//
// # Filtering
//
// Hidden files and directories (including the .notesync metadata directory
// and .rss.json sidecars), files without a note extension, and anything
// nested deeper than one folder are dropped before coalescing. Temporary
// files written by atomic replaces carry a random suffix after the
// extension and are dropped by the same rule.
//
// # Coalescing
//
// Events for the same id that arrive within the coalesce window collapse
// into one. The latest kind wins, with two exceptions: Added followed by
// Changed stays Added, and Deleted followed by Added becomes Changed (the
// file was replaced). An event is released once its id has been quiet for
// a full window.
//
// # Pause and Resume
//
// While paused no events are delivered. Events observed during the pause,
// and any still waiting in the coalesce queue when Pause is called, are
// dropped rather than replayed. Callers that pause around bulk writes are
// expected to rescan afterwards. New folders are still added to the watch
// set while paused so later changes inside them are seen.
//
// # Usage
//
//	fw, err := watch.NewFileWatcher(watch.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := fw.Start(root); err != nil {
//	    return err
//	}
//	defer fw.Stop()
//
//	for ev := range fw.Events() {
//	    fmt.Println(ev.Kind, ev.RelPath)
//	}
package watch
