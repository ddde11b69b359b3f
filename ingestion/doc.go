// Package ingestion provides bulk import of models into a persistence engine.
//
// The Pipeline type manages the import workflow, including:
//   - Decoding models from JSON lines
//   - Saving each model through a worker pool
//   - Retrying failed saves with exponential backoff
//   - Reporting progress
//
// Each model is saved independently. A failed model is reported in the
// Result and does not stop the others; nothing is rolled back.
package ingestion
