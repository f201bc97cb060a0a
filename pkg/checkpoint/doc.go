// Package checkpoint provides functionality for resuming batch crawls.
//
// After every successful task the batch records the task's summary under a
// key derived from the task's position and arguments. A batch started with
// --resume loads the checkpoint and skips the tasks it lists; failed tasks
// are run again. --force-restart discards the checkpoint.
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: ~/.local/share/threadcrawl/checkpoints/
//   - macOS: ~/Library/Application Support/threadcrawl/checkpoints/
//   - Windows: %APPDATA%/threadcrawl/checkpoints/
//
// The checkpoint files are saved atomically to prevent corruption and include
// versioning for future compatibility.
package checkpoint
