// Package report renders diffs and apply reports for people and for machines.
//
// Text output is colored with lipgloss when the writer is a terminal and
// marks every change with +, ~ or -. JSON and YAML output encode the engine
// types with their json field names so both can be consumed by scripts.
//
// Runs and Run render entries of the run journal.
package report
