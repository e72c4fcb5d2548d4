// Package service contains the business logic.
//
// It sits between the handler and repository layers. For batches it is
// the coordinator: it serializes mutations per batch identifier, applies
// store mutations, keeps the cached batch snapshot coherent, and runs
// the label-processing workflow.
package service
