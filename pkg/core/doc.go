// Package core defines the shared language of the gridsql system.
//
// This package contains:
//   - Domain entities (Table, Column, relation/lookup/rollup descriptors)
//   - Service interfaces (Catalog, UserRoster, FormulaErrorSink, Adapter)
//   - Static dialect configuration (DialectConfig, Engine)
//   - The error taxonomy shared by the compiler, resolver and link engine
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
